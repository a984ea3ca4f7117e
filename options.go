package docjar

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/andreyvit/docjar/docstore"
	"github.com/andreyvit/docjar/txn"
)

const (
	DefaultDatabase          = "docjar"
	DefaultNameMapCollection = "persistence_name_map"
	DefaultRootCollection    = "persistence_root"
)

// AbortPolicy decides which modified objects abort writes back.
type AbortPolicy int

const (
	// AbortRestoreUnlessConflicting restores the original document of every
	// object written in the transaction, except objects that someone else
	// has changed since.
	AbortRestoreUnlessConflicting AbortPolicy = iota
	// AbortRestoreAlways restores original documents unconditionally.
	AbortRestoreAlways
)

// FilterProcessor rewrites the filters of Collection queries.
type FilterProcessor func(c *Collection, filter docstore.Filter) docstore.Filter

type Options struct {
	DefaultDatabase   string
	NameMapCollection string
	RootDatabase      string
	RootCollection    string
	SerialField       string

	// ConflictHandler builds the conflict handler of a data manager.
	// NewNoCheckConflictHandler by default.
	ConflictHandler func(dm *DataManager) ConflictHandler
	AbortPolicy     AbortPolicy

	Registry        *Registry
	Logger          logrus.FieldLogger
	Metrics         *Metrics
	FilterProcessor FilterProcessor

	// TxnManager is the transaction manager the data manager joins. Each
	// data manager gets its own when nil.
	TxnManager *txn.Manager

	// Context is used for loads triggered by Handle.Activate.
	Context context.Context
}

func (o Options) withDefaults() Options {
	if o.DefaultDatabase == "" {
		o.DefaultDatabase = DefaultDatabase
	}
	if o.NameMapCollection == "" {
		o.NameMapCollection = DefaultNameMapCollection
	}
	if o.RootDatabase == "" {
		o.RootDatabase = o.DefaultDatabase
	}
	if o.RootCollection == "" {
		o.RootCollection = DefaultRootCollection
	}
	if o.SerialField == "" {
		o.SerialField = DefaultSerialField
	}
	if o.ConflictHandler == nil {
		o.ConflictHandler = NewNoCheckConflictHandler
	}
	if o.Registry == nil {
		o.Registry = DefaultRegistry
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	return o
}
