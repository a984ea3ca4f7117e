package docjar

import (
	"fmt"

	"github.com/andreyvit/docjar/docstore"
)

type (
	Ref      = docstore.Ref
	Document = docstore.Document
)

type State int

const (
	// StateActive means loaded and unmodified; new objects start here.
	StateActive State = iota
	StateModified
	StateGhost
	StateRemoved
)

var stateNames = []string{"active", "modified", "ghost", "removed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stater is implemented by every value that is stored as a set of attributes.
type Stater interface {
	GetState() Attrs
	SetState(attrs Attrs) error
}

// Persistent is implemented by structs that embed Handle and are registered
// with KindPersistent or KindEmbedded.
type Persistent interface {
	Stater
	handle() *Handle
}

// Handle carries the persistence bookkeeping of an object. Embed it by value
// into persistent structs:
//
//	type Person struct {
//		docjar.Handle
//		Name string
//	}
type Handle struct {
	dm     *DataManager
	self   Persistent
	typ    *Type
	ref    Ref
	hasRef bool
	state  State
	serial int64

	// owner is the handle of the document object an embedded object lives in.
	owner *Handle
}

func (h *Handle) handle() *Handle { return h }

// HandleOf returns the handle of a persistent object.
func HandleOf(obj Persistent) *Handle {
	return obj.handle()
}

// Ref returns the object's reference; the zero Ref until the first insert.
func (h *Handle) Ref() Ref { return h.ref }

func (h *Handle) HasRef() bool { return h.hasRef }

func (h *Handle) State() State { return h.state }

// Serial is the last version number seen for the object (versioning conflict
// handlers only).
func (h *Handle) Serial() int64 { return h.serial }

// Jar returns the data manager the object belongs to, if any.
func (h *Handle) Jar() *DataManager { return h.dm }

func (h *Handle) Type() *Type { return h.typ }

// Owner returns the document object an embedded object is stored in.
func (h *Handle) Owner() *Handle { return h.owner }

func (h *Handle) IsEmbedded() bool { return h.owner != nil }

func (h *Handle) root() *Handle {
	for h.owner != nil {
		h = h.owner
	}
	return h
}

// Activate loads a ghost; it does nothing for loaded objects. Call it before
// reading or modifying fields of an object obtained from Load.
func (h *Handle) Activate() error {
	if h.state != StateGhost || h.dm == nil {
		return nil
	}
	return h.dm.SetState(h.dm.context(), h.self)
}

// Changed marks the object modified and registers it with its data manager.
// Objects not yet attached to a data manager are left alone; they are written
// in full when inserted.
func (h *Handle) Changed() error {
	r := h.root()
	switch r.state {
	case StateGhost:
		return invalidOpf("modify", r.ref, "object is a ghost, activate it first")
	case StateRemoved:
		return nil
	}
	if h.dm == nil || h.self == nil {
		return nil
	}
	if err := h.dm.Register(h.self); err != nil {
		return err
	}
	if r.state == StateActive {
		r.state = StateModified
	}
	return nil
}

func (h *Handle) ghostify() {
	h.state = StateGhost
}

func (h *Handle) String() string {
	if h.typ == nil {
		return fmt.Sprintf("<%v %s>", h.ref, h.state)
	}
	return fmt.Sprintf("<%s %v %s>", h.typ.Path, h.ref, h.state)
}

func (h *Handle) attach(dm *DataManager, self Persistent, typ *Type) {
	h.dm = dm
	h.self = self
	h.typ = typ
}

// detach makes h a new object again.
func (h *Handle) detach() {
	h.dm = nil
	h.ref = Ref{}
	h.hasRef = false
	h.serial = 0
	h.state = StateActive
}

func (h *Handle) typePath() string {
	if h.typ == nil {
		return ""
	}
	return h.typ.Path
}
