package index

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/leftmike/egdb/errors"
)

// Manager holds the composite indexes of every application. Each application
// has an immutable slice of indexes which is replaced on every change, so
// listing never waits on a writer.
type Manager struct {
	lastID  atomic.Int64
	indexes *xsync.MapOf[string, []Index]
}

func NewManager() *Manager {
	return &Manager{
		indexes: xsync.NewMapOf[string, []Index](),
	}
}

// Create adds a new index and returns its id; idx.ID must be zero. An index
// without a state starts WRITE_ONLY.
func (m *Manager) Create(idx Index) (int64, error) {
	if idx.ID != 0 {
		return 0, errors.New(errors.ErrBadRequest, "New index id must be 0.")
	}
	if idx.State == 0 {
		idx.State = WriteOnly
	}

	var err error
	m.indexes.Compute(idx.App,
		func(indexes []Index, loaded bool) ([]Index, bool) {
			for _, old := range indexes {
				if old.Definition.Equal(idx.Definition) {
					err = errors.New(errors.ErrBadRequest, "Index already exists.")
					return indexes, !loaded
				}
			}

			idx = idx.clone()
			idx.ID = m.lastID.Add(1)
			return append(append(make([]Index, 0, len(indexes)+1), indexes...), idx), false
		})
	if err != nil {
		return 0, err
	}
	return idx.ID, nil
}

func (m *Manager) modify(app string, id int64, fn func(indexes []Index, pos int) []Index) error {
	err := errors.New(errors.ErrBadRequest, "Index does not exist.")
	m.indexes.Compute(app,
		func(indexes []Index, loaded bool) ([]Index, bool) {
			for pos := range indexes {
				if indexes[pos].ID == id {
					err = nil
					indexes = fn(append([]Index(nil), indexes...), pos)
					return indexes, len(indexes) == 0
				}
			}
			return indexes, !loaded
		})
	return err
}

// Update moves an existing index to idx.State.
func (m *Manager) Update(idx Index) error {
	var err error
	merr := m.modify(idx.App, idx.ID,
		func(indexes []Index, pos int) []Index {
			err = CheckTransition(indexes[pos].State, idx.State)
			if err == nil {
				indexes[pos].State = idx.State
			}
			return indexes
		})
	if merr != nil {
		return merr
	}
	return err
}

func (m *Manager) Delete(idx Index) error {
	return m.modify(idx.App, idx.ID,
		func(indexes []Index, pos int) []Index {
			return append(indexes[:pos], indexes[pos+1:]...)
		})
}

// List returns the indexes of app in the order they were created.
func (m *Manager) List(app string) []Index {
	indexes, _ := m.indexes.Load(app)
	ret := make([]Index, 0, len(indexes))
	for _, idx := range indexes {
		ret = append(ret, idx.clone())
	}
	return ret
}

// Maintained returns the indexes of kind which writes must keep up to date.
func (m *Manager) Maintained(app, kind string) []Index {
	indexes, _ := m.indexes.Load(app)
	var ret []Index
	for _, idx := range indexes {
		if idx.Definition.Kind == kind && (idx.State == WriteOnly || idx.State == ReadWrite) {
			ret = append(ret, idx)
		}
	}
	return ret
}

// Serving returns the definitions of the indexes of app which queries may use.
func (m *Manager) Serving(app string) []Definition {
	indexes, _ := m.indexes.Load(app)
	var defs []Definition
	for _, idx := range indexes {
		if idx.State == ReadWrite {
			defs = append(defs, idx.Definition)
		}
	}
	return defs
}
