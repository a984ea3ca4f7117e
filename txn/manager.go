package txn

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Manager tracks the current transaction of one unit of work. It is not safe
// for concurrent use; give every goroutine its own Manager.
type Manager struct {
	current *Transaction
	logger  logrus.FieldLogger
}

func NewManager(logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{logger: logger}
}

// Get returns the current transaction, starting one if needed.
func (m *Manager) Get() *Transaction {
	if m.current == nil || m.current.status != StatusActive {
		m.current = New(m.logger)
	}
	return m.current
}

// Begin aborts the current transaction, if any, and starts a new one.
func (m *Manager) Begin(ctx context.Context) *Transaction {
	if m.current != nil {
		m.current.Abort(ctx)
	}
	m.current = New(m.logger)
	return m.current
}

func (m *Manager) Commit(ctx context.Context) error {
	t := m.Get()
	m.current = nil
	return t.Commit(ctx)
}

func (m *Manager) Abort(ctx context.Context) {
	if m.current == nil {
		return
	}
	t := m.current
	m.current = nil
	t.Abort(ctx)
}

// Run calls f within a fresh transaction, committing if f succeeds and
// aborting if it fails or panics.
func (m *Manager) Run(ctx context.Context, f func(ctx context.Context, t *Transaction) error) error {
	t := m.Begin(ctx)
	err := safelyCall(ctx, f, t)
	if err != nil {
		m.Abort(ctx)
		return err
	}
	return m.Commit(ctx)
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(ctx context.Context, fn func(context.Context, *Transaction) error, t *Transaction) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(ctx, t)
}
