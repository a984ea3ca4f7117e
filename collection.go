package docjar

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/andreyvit/docjar/docstore"
)

// Collection queries one collection on behalf of a data manager. Every query
// flushes pending changes first, so it sees the transaction's own writes.
type Collection struct {
	dm         *DataManager
	Database   string
	Collection string
}

// Collection returns a query wrapper; an empty database means the default one.
func (dm *DataManager) Collection(database, collection string) *Collection {
	if database == "" {
		database = dm.opts.DefaultDatabase
	}
	return &Collection{dm: dm, Database: database, Collection: collection}
}

// CollectionOf returns the collection new objects of typ are stored in.
func (dm *DataManager) CollectionOf(typ *Type) *Collection {
	db, coll := dm.collectionFor(typ)
	return &Collection{dm: dm, Database: db, Collection: coll}
}

func (c *Collection) Ref(id string) Ref {
	return Ref{Database: c.Database, Collection: c.Collection, ID: id}
}

func (c *Collection) prepare(ctx context.Context, op string, filter docstore.Filter) (docstore.Filter, error) {
	if err := c.dm.Flush(ctx); err != nil {
		return nil, err
	}
	if p := c.dm.opts.FilterProcessor; p != nil {
		filter = p(c, filter)
	}
	c.dm.logger.WithFields(logrus.Fields{
		"database":   c.Database,
		"collection": c.Collection,
		"op":         op,
		"filter":     filter,
	}).Debug("docjar: query")
	return filter, nil
}

func (c *Collection) Find(ctx context.Context, filter docstore.Filter) ([]Document, error) {
	filter, err := c.prepare(ctx, "find", filter)
	if err != nil {
		return nil, err
	}
	return c.dm.store.Find(ctx, c.Database, c.Collection, filter)
}

func (c *Collection) FindOne(ctx context.Context, filter docstore.Filter) (Document, error) {
	filter, err := c.prepare(ctx, "find_one", filter)
	if err != nil {
		return nil, err
	}
	return c.dm.store.FindOne(ctx, c.Database, c.Collection, filter)
}

func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int, error) {
	filter, err := c.prepare(ctx, "count", filter)
	if err != nil {
		return 0, err
	}
	return c.dm.store.Count(ctx, c.Database, c.Collection, filter)
}

// Get loads and activates the object with the given id.
func (c *Collection) Get(ctx context.Context, id string) (Persistent, error) {
	return c.dm.Get(ctx, c.Ref(id))
}

// FindObjects returns the matching objects as ghosts whose documents are
// already fetched, so activating them costs no store round trip. Objects
// already loaded in this transaction are returned as they are.
func (c *Collection) FindObjects(ctx context.Context, filter docstore.Filter) ([]Persistent, error) {
	filter, err := c.prepare(ctx, "find_objects", filter)
	if err != nil {
		return nil, err
	}
	docs, err := c.dm.store.Find(ctx, c.Database, c.Collection, filter)
	if err != nil {
		return nil, err
	}
	c.dm.join()
	objs := make([]Persistent, 0, len(docs))
	for _, doc := range docs {
		ref := c.Ref(doc.ID())
		obj, err := c.dm.reader.getGhost(ctx, ref, doc)
		if err != nil {
			return nil, err
		}
		if obj.handle().state == StateGhost {
			c.dm.prefetched[ref] = doc
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// FindOneObject is FindObjects for the first match; nil if there is none.
func (c *Collection) FindOneObject(ctx context.Context, filter docstore.Filter) (Persistent, error) {
	filter, err := c.prepare(ctx, "find_one_object", filter)
	if err != nil {
		return nil, err
	}
	doc, err := c.dm.store.FindOne(ctx, c.Database, c.Collection, filter)
	if err != nil || doc == nil {
		return nil, err
	}
	c.dm.join()
	ref := c.Ref(doc.ID())
	obj, err := c.dm.reader.getGhost(ctx, ref, doc)
	if err != nil {
		return nil, err
	}
	if obj.handle().state == StateGhost {
		if err := c.dm.reader.setGhostState(ctx, obj, doc); err != nil {
			return nil, err
		}
	}
	return obj, nil
}
