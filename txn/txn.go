// Package txn coordinates resource managers through a two-phase commit.
//
// A Transaction collects the resources that joined it. Commit runs
// TPCBegin, Commit and TPCVote on every resource in SortKey order and then
// TPCFinish; if anything fails before TPCFinish, every resource gets
// TPCAbort instead. Abort calls Abort on every resource.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotActive = errors.New("txn: transaction is not active")
)

// Resource is a participant of a transaction.
type Resource interface {
	// Abort discards changes made within the transaction. It must not fail.
	Abort(ctx context.Context, t *Transaction)
	TPCBegin(ctx context.Context, t *Transaction) error
	Commit(ctx context.Context, t *Transaction) error
	TPCVote(ctx context.Context, t *Transaction) error
	TPCFinish(ctx context.Context, t *Transaction) error
	// TPCAbort is called instead of TPCFinish when the commit fails.
	TPCAbort(ctx context.Context, t *Transaction)
	// SortKey orders resources within a commit.
	SortKey() string
}

type Status int

const (
	StatusActive Status = iota
	StatusCommitting
	StatusCommitted
	StatusAborted
)

var statusNames = []string{"active", "committing", "committed", "aborted"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

type Transaction struct {
	resources []Resource
	status    Status
	logger    logrus.FieldLogger
}

func New(logger logrus.FieldLogger) *Transaction {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transaction{logger: logger}
}

func (t *Transaction) Status() Status {
	return t.status
}

// Join adds r to the transaction. Joining twice is a no-op.
func (t *Transaction) Join(r Resource) error {
	if t.status != StatusActive {
		return ErrNotActive
	}
	for _, existing := range t.resources {
		if existing == r {
			return nil
		}
	}
	t.resources = append(t.resources, r)
	return nil
}

// Joined reports whether r has joined the transaction.
func (t *Transaction) Joined(r Resource) bool {
	for _, existing := range t.resources {
		if existing == r {
			return true
		}
	}
	return false
}

func (t *Transaction) sortedResources() []Resource {
	rs := append([]Resource(nil), t.resources...)
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].SortKey() < rs[j].SortKey()
	})
	return rs
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.status != StatusActive {
		return ErrNotActive
	}
	t.status = StatusCommitting
	rs := t.sortedResources()

	if err := t.prepare(ctx, rs); err != nil {
		t.logger.WithError(err).Info("txn: commit failed, aborting")
		for _, r := range rs {
			r.TPCAbort(ctx, t)
		}
		t.status = StatusAborted
		return err
	}

	var errs []error
	for _, r := range rs {
		if err := r.TPCFinish(ctx, t); err != nil {
			t.logger.WithError(err).WithField("resource", r.SortKey()).Error("txn: tpc_finish failed")
			errs = append(errs, err)
		}
	}
	t.status = StatusCommitted
	return errors.Join(errs...)
}

func (t *Transaction) prepare(ctx context.Context, rs []Resource) error {
	for _, r := range rs {
		if err := r.TPCBegin(ctx, t); err != nil {
			return err
		}
	}
	for _, r := range rs {
		if err := r.Commit(ctx, t); err != nil {
			return err
		}
	}
	for _, r := range rs {
		if err := r.TPCVote(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Abort rolls back every joined resource. Aborting a finished transaction is
// a no-op.
func (t *Transaction) Abort(ctx context.Context) {
	if t.status != StatusActive {
		return
	}
	for _, r := range t.sortedResources() {
		r.Abort(ctx, t)
	}
	t.status = StatusAborted
}
