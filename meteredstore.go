package docjar

import (
	"context"

	"github.com/andreyvit/docjar/docstore"
)

// meteredStore counts the store calls a data manager makes.
type meteredStore struct {
	docstore.Store
	m *Metrics
}

func (s meteredStore) Get(ctx context.Context, database, collection, id string) (Document, error) {
	s.m.storeOp("get")
	return s.Store.Get(ctx, database, collection, id)
}

func (s meteredStore) FindOne(ctx context.Context, database, collection string, filter docstore.Filter) (Document, error) {
	s.m.storeOp("find_one")
	return s.Store.FindOne(ctx, database, collection, filter)
}

func (s meteredStore) Find(ctx context.Context, database, collection string, filter docstore.Filter) ([]Document, error) {
	s.m.storeOp("find")
	return s.Store.Find(ctx, database, collection, filter)
}

func (s meteredStore) Count(ctx context.Context, database, collection string, filter docstore.Filter) (int, error) {
	s.m.storeOp("count")
	return s.Store.Count(ctx, database, collection, filter)
}

func (s meteredStore) Insert(ctx context.Context, database, collection string, doc Document) (string, error) {
	s.m.storeOp("insert")
	return s.Store.Insert(ctx, database, collection, doc)
}

func (s meteredStore) Upsert(ctx context.Context, database, collection, id string, doc Document) error {
	s.m.storeOp("upsert")
	return s.Store.Upsert(ctx, database, collection, id, doc)
}

func (s meteredStore) Delete(ctx context.Context, database, collection, id string) error {
	s.m.storeOp("delete")
	return s.Store.Delete(ctx, database, collection, id)
}
