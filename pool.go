package docjar

import (
	"context"
	"sync"

	"github.com/andreyvit/docjar/docstore"
)

// Pool hands out one DataManager per worker. Workers share the store, which
// is safe for concurrent use, but never a data manager or its transaction.
type Pool struct {
	store docstore.Store
	opts  Options

	mu  sync.Mutex
	dms map[any]*DataManager
}

// NewPool creates a pool. Options.TxnManager is ignored; every data manager
// gets a transaction manager of its own.
func NewPool(store docstore.Store, opt Options) *Pool {
	opt.TxnManager = nil
	return &Pool{
		store: store,
		opts:  opt,
		dms:   make(map[any]*DataManager),
	}
}

// Get returns the data manager of the worker identified by key, creating it
// on first use.
func (p *Pool) Get(key any) *DataManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	dm := p.dms[key]
	if dm == nil {
		dm = NewDataManager(p.store, p.opts)
		p.dms[key] = dm
	}
	return dm
}

// Release aborts the worker's open transaction and forgets its data manager.
func (p *Pool) Release(ctx context.Context, key any) {
	p.mu.Lock()
	dm := p.dms[key]
	delete(p.dms, key)
	p.mu.Unlock()
	if dm != nil {
		dm.Txn().Abort(ctx)
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dms)
}
