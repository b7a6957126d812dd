package engine

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/index"
)

type keyGroup struct {
	group entity.Key
	idxs  []int
}

// groupKeys groups the positions of keys by entity group, in the order the
// groups first appear.
func groupKeys(keys []entity.Key) []*keyGroup {
	var groups []*keyGroup
	byID := map[string]*keyGroup{}
	for idx, key := range keys {
		group := key.EntityGroup()
		id := encode.KeyID(group)
		kg, ok := byID[id]
		if !ok {
			kg = &keyGroup{group: group}
			byID[id] = kg
			groups = append(groups, kg)
		}
		kg.idxs = append(kg.idxs, idx)
	}
	return groups
}

func (e *Engine) optionalTxn(caller Caller, h *Handle) (*txn, error) {
	if h == nil {
		return nil, nil
	}
	return e.lookup(caller, *h)
}

func (e *Engine) getWithPseudoKinds(t *txn, key entity.Key) (*entity.Entity, error) {
	if pk, ok := e.lookupPseudoKind(key.Kind()); ok {
		return pk.get(e, t, key)
	} else if t != nil {
		return t.get(e, key)
	}
	ent, err := e.st.Get(key)
	if err != nil {
		return nil, errors.Wrap(err, "store: get")
	}
	return ent, nil
}

// Get returns the entity for each key, or nil if it does not exist. Within a
// transaction, the entities come from its snapshots. Otherwise, each entity
// group is read in its own transaction, unless eventual consistency is good
// enough; then the store is read directly.
func (e *Engine) Get(ctx context.Context, caller Caller, h *Handle, keys []entity.Key,
	eventual bool) ([]*entity.Entity, error) {

	for _, key := range keys {
		err := entity.CheckKey(caller.Trusted, caller.App, key, true)
		if err != nil {
			return nil, err
		}
	}

	t, err := e.optionalTxn(caller, h)
	if err != nil {
		return nil, err
	}

	results := make([]*entity.Entity, len(keys))
	if t != nil || eventual {
		for idx, key := range keys {
			results[idx], err = e.getWithPseudoKinds(t, key)
			if err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	for _, kg := range groupKeys(keys) {
		_, err := e.runInTxn(ctx, kg.group.App,
			func(t *txn) error {
				for _, idx := range kg.idxs {
					ent, err := e.getWithPseudoKinds(t, keys[idx])
					if err != nil {
						return err
					}
					results[idx] = ent
				}
				return nil
			})
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

type pendingEntity struct {
	entity  *entity.Entity
	insert  bool
	indexes []index.Index
}

func (e *Engine) preparePut(caller Caller, ent *entity.Entity) (pendingEntity, error) {
	err := entity.CheckEntity(caller.Trusted, caller.App, ent)
	if err != nil {
		return pendingEntity{}, err
	}
	if _, ok := e.lookupPseudoKind(ent.Key.Kind()); ok {
		return pendingEntity{}, errors.Newf(errors.ErrBadRequest,
			"cannot put entities of kind %s", ent.Key.Kind())
	}
	if sz := encode.ByteSize(ent); sz > MaxEntitySize {
		return pendingEntity{}, errors.Newf(errors.ErrBadRequest,
			"entity is too big: %d bytes, maximum is %d bytes", sz, MaxEntitySize)
	}

	ent = ent.Clone()
	var insert bool
	last := len(ent.Key.Path) - 1
	if !ent.Key.Path[last].Complete() {
		id, err := e.newID()
		if err != nil {
			return pendingEntity{}, err
		}
		ent.Key.Path[last].ID = id
		insert = true
	} else if ent.Key.Path[last].HasID() {
		err = e.reserveID(ent.Key.Path[last].ID)
		if err != nil {
			return pendingEntity{}, err
		}
	}

	return pendingEntity{
		entity:  ent,
		insert:  insert,
		indexes: e.indexes.Maintained(ent.Key.App, ent.Key.Kind()),
	}, nil
}

// Put writes entities and returns their keys; an incomplete key is given a
// new id. Outside of a transaction, each entity group is written in its own
// transaction and the cost of the writes is returned; within a transaction,
// the cost is returned by Commit.
func (e *Engine) Put(ctx context.Context, caller Caller, h *Handle,
	entities []*entity.Entity) ([]entity.Key, index.Cost, error) {

	t, err := e.optionalTxn(caller, h)
	if err != nil {
		return nil, index.Cost{}, err
	}

	pending := make([]pendingEntity, 0, len(entities))
	keys := make([]entity.Key, 0, len(entities))
	for _, ent := range entities {
		pe, err := e.preparePut(caller, ent)
		if err != nil {
			return nil, index.Cost{}, err
		}
		pending = append(pending, pe)
		keys = append(keys, pe.entity.Key.Clone())
	}

	if t != nil {
		for _, pe := range pending {
			err = t.put(e, pe.entity, pe.insert, pe.indexes)
			if err != nil {
				return nil, index.Cost{}, err
			}
		}
		return keys, index.Cost{}, nil
	}

	var cost index.Cost
	for _, kg := range groupKeys(keys) {
		c, err := e.runInTxn(ctx, kg.group.App,
			func(t *txn) error {
				for _, idx := range kg.idxs {
					pe := pending[idx]
					err := t.put(e, pe.entity, pe.insert, pe.indexes)
					if err != nil {
						return err
					}
				}
				return nil
			})
		if err != nil {
			return nil, index.Cost{}, err
		}
		cost.Add(c)
	}
	log.WithFields(log.Fields{"app": caller.App, "entities": len(keys)}).Trace("put")
	return keys, cost, nil
}

// Delete deletes the entities for keys; missing entities are ignored.
func (e *Engine) Delete(ctx context.Context, caller Caller, h *Handle,
	keys []entity.Key) (index.Cost, error) {

	for _, key := range keys {
		err := entity.CheckKey(caller.Trusted, caller.App, key, true)
		if err != nil {
			return index.Cost{}, err
		}
	}

	t, err := e.optionalTxn(caller, h)
	if err != nil {
		return index.Cost{}, err
	}
	if t != nil {
		for _, key := range keys {
			err = t.delete(e, key, e.indexes.Maintained(key.App, key.Kind()))
			if err != nil {
				return index.Cost{}, err
			}
		}
		return index.Cost{}, nil
	}

	var cost index.Cost
	for _, kg := range groupKeys(keys) {
		c, err := e.runInTxn(ctx, kg.group.App,
			func(t *txn) error {
				for _, idx := range kg.idxs {
					key := keys[idx]
					err := t.delete(e, key, e.indexes.Maintained(key.App, key.Kind()))
					if err != nil {
						return err
					}
				}
				return nil
			})
		if err != nil {
			return index.Cost{}, err
		}
		cost.Add(c)
	}
	return cost, nil
}

// Touch validates keys and runs an empty transaction on each of their
// entity groups.
func (e *Engine) Touch(ctx context.Context, caller Caller, keys []entity.Key) error {
	for _, key := range keys {
		err := entity.CheckKey(caller.Trusted, caller.App, key, true)
		if err != nil {
			return err
		}
	}

	for _, kg := range groupKeys(keys) {
		_, err := e.runInTxn(ctx, kg.group.App,
			func(t *txn) error {
				return nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) CreateIndex(ctx context.Context, caller Caller, idx index.Index) (int64,
	error) {

	err := entity.CheckApp(caller.Trusted, caller.App, idx.App)
	if err != nil {
		return 0, err
	}
	id, err := e.indexes.Create(idx)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"app": idx.App, "index": id, "definition": idx.Definition}).
		Info("create index")
	return id, nil
}

func (e *Engine) UpdateIndex(ctx context.Context, caller Caller, idx index.Index) error {
	err := entity.CheckApp(caller.Trusted, caller.App, idx.App)
	if err != nil {
		return err
	}
	err = e.indexes.Update(idx)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"app": idx.App, "index": idx.ID, "state": idx.State}).
		Info("update index")
	return nil
}

func (e *Engine) DeleteIndex(ctx context.Context, caller Caller, idx index.Index) error {
	err := entity.CheckApp(caller.Trusted, caller.App, idx.App)
	if err != nil {
		return err
	}
	err = e.indexes.Delete(idx)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"app": idx.App, "index": idx.ID}).Info("delete index")
	return nil
}

func (e *Engine) Indexes(ctx context.Context, caller Caller, app string) ([]index.Index,
	error) {

	err := entity.CheckApp(caller.Trusted, caller.App, app)
	if err != nil {
		return nil, err
	}
	return e.indexes.List(app), nil
}
