// Command docjar-bench measures the basic persistence operations: insert,
// per-object and bulk reads, cached reads, updates and removal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/andreyvit/docjar"
	"github.com/andreyvit/docjar/docstore"
	"github.com/andreyvit/docjar/txn"
)

type Address struct {
	docjar.Handle
	City string
}

func (a *Address) GetState() docjar.Attrs { return docjar.Attrs{"city": a.City} }
func (a *Address) SetState(s docjar.Attrs) error {
	a.City = s.String("city")
	return nil
}

type Person struct {
	docjar.Handle
	Name    string
	Age     int64
	Address *Address
	Visits  *docjar.List
}

func (p *Person) GetState() docjar.Attrs {
	return docjar.Attrs{"name": p.Name, "age": p.Age, "address": p.Address, "visits": p.Visits}
}

func (p *Person) SetState(a docjar.Attrs) error {
	p.Name = a.String("name")
	p.Age = a.Int("age")
	p.Address = docjar.Attr[*Address](a, "address")
	p.Visits = a.List("visits")
	return nil
}

// Person2 shares the person collection, making it polymorphic.
type Person2 struct {
	Person
}

var registry = docjar.NewRegistry()

func init() {
	docjar.Register[Address](registry, "bench.Address", docjar.KindPersistent, docjar.InCollection("address"), docjar.InDatabase("performance"))
	docjar.Register[Person](registry, "bench.Person", docjar.KindPersistent, docjar.InCollection("person"), docjar.InDatabase("performance"))
	docjar.Register[Person2](registry, "bench.Person2", docjar.KindPersistent, docjar.InCollection("person"), docjar.InDatabase("performance"))
}

type options struct {
	config    string
	path      string
	objects   int
	conflicts string
	verbose   bool
}

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}

func run(out, errOut io.Writer, args []string) int {
	opts, code := parseFlags(errOut, args)
	if code != 0 {
		return code
	}

	cfg := &docjar.Config{}
	if opts.config != "" {
		var err error
		cfg, err = docjar.LoadConfig(opts.config)
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
	}
	if opts.path != "" {
		cfg.Store.Path = opts.path
	}
	if opts.conflicts != "" {
		cfg.ConflictHandler = opts.conflicts
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	logger := cfg.Logger()
	logger.SetOutput(errOut)
	store, err := cfg.OpenStore(logger)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer store.Close()

	dmOpts := cfg.Options(logger)
	dmOpts.Registry = registry
	b := &bench{
		ctx:    context.Background(),
		out:    out,
		dm:     docjar.NewDataManager(store, dmOpts),
		store:  store,
		logger: logger,
		count:  opts.objects,
	}
	if err := b.run(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func parseFlags(errOut io.Writer, args []string) (options, int) {
	fs := flag.NewFlagSet("docjar-bench", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var opts options
	fs.StringVarP(&opts.config, "config", "c", "", "YAML config file")
	fs.StringVar(&opts.path, "path", "", "Bolt database file (default: in-memory store)")
	fs.IntVarP(&opts.objects, "objects", "n", 1000, "Number of objects to create")
	fs.StringVar(&opts.conflicts, "conflicts", "", "Conflict handler: none, simple or resolving")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Log every store operation")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return opts, 0
		}
		return opts, 2
	}
	if opts.objects <= 0 {
		fmt.Fprintln(errOut, "error: --objects must be positive")
		return opts, 2
	}
	return opts, 0
}

type bench struct {
	ctx    context.Context
	out    io.Writer
	dm     *docjar.DataManager
	store  *docstore.DB
	logger logrus.FieldLogger
	count  int
	refs   []docjar.Ref
}

func (b *bench) result(text string, start time.Time, ops int) {
	dur := time.Since(start)
	fmt.Fprintf(b.out, "%-25s %.4f secs %d ops/second\n", text+":", dur.Seconds(), int(float64(ops)/dur.Seconds()))
}

// txn runs f in a transaction of its own.
func (b *bench) txn(f func() error) error {
	return b.dm.Txn().Run(b.ctx, func(ctx context.Context, t *txn.Transaction) error {
		return f()
	})
}

func (b *bench) run() error {
	steps := []struct {
		name string
		ops  func() int
		f    func() error
	}{
		{"Insert", b.n, b.insert},
		{"Slow Read", b.n, b.slowRead},
		{"Fast Read (find)", b.n, b.fastRead},
		{"Fast Read (caching x2)", func() int { return 2 * b.count }, b.cachedRead},
		{"Modification", b.n, b.modify},
		{"Deletion", b.n, b.remove},
	}
	for _, s := range steps {
		start := time.Now()
		if err := b.txn(s.f); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		b.result(s.name, start, s.ops())
	}
	b.logger.WithField("objects", b.count).Debug("bench: done")
	return nil
}

func (b *bench) n() int { return b.count }

func (b *bench) people() *docjar.Collection {
	return b.dm.Collection("performance", "person")
}

func (b *bench) insert() error {
	b.refs = b.refs[:0]
	for i := range b.count {
		p := &Person{
			Name:    fmt.Sprintf("Mr Number %.5d", i),
			Age:     int64(i % 100),
			Address: &Address{City: fmt.Sprintf("Boston %d", i%100)},
			Visits:  docjar.NewList(),
		}
		var obj docjar.Persistent = p
		if i%2 == 1 {
			obj = &Person2{Person: *p}
		}
		ref, err := b.dm.Insert(b.ctx, obj)
		if err != nil {
			return err
		}
		b.refs = append(b.refs, ref)
	}
	return nil
}

func (b *bench) slowRead() error {
	for _, ref := range b.refs {
		if _, err := b.dm.Get(b.ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

func (b *bench) fastRead() error {
	objs, err := b.people().FindObjects(b.ctx, nil)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := docjar.HandleOf(obj).Activate(); err != nil {
			return err
		}
	}
	return nil
}

func (b *bench) cachedRead() error {
	for range 2 {
		if err := b.fastRead(); err != nil {
			return err
		}
	}
	return nil
}

func personOf(obj docjar.Persistent) *Person {
	switch p := obj.(type) {
	case *Person:
		return p
	case *Person2:
		return &p.Person
	}
	return nil
}

func (b *bench) modify() error {
	objs, err := b.people().FindObjects(b.ctx, nil)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := docjar.HandleOf(obj).Activate(); err != nil {
			return err
		}
		p := personOf(obj)
		p.Age++
		if err := p.Visits.Append(time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

func (b *bench) remove() error {
	for _, ref := range b.refs {
		obj, err := b.dm.Load(b.ctx, ref)
		if err != nil {
			return err
		}
		if err := b.dm.Remove(b.ctx, obj); err != nil {
			return err
		}
	}
	return nil
}
