package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/index"
)

type txnState int

const (
	activeTxn txnState = iota + 1
	committedTxn
	rolledBackTxn
	failedTxn
)

func (st txnState) String() string {
	switch st {
	case activeTxn:
		return "active"
	case committedTxn:
		return "committed"
	case rolledBackTxn:
		return "rolled back"
	case failedTxn:
		return "failed"
	}
	return fmt.Sprintf("txnState(%d)", int(st))
}

// globalKind names the entity group used by transactions which touch no
// entities, so that they still commit in order.
const globalKind = "__global__"

type txn struct {
	id          int64
	app         string
	multiGroup  bool
	mutex       sync.Mutex
	applyMutex  sync.Mutex
	state       txnState
	commitTime  time.Time
	trackers    map[string]*tracker
	actions     []Action
	cost        index.Cost
	kindIndexes map[string][]index.Index
}

func (e *Engine) newTxn(app string, multiGroup bool) *txn {
	return &txn{
		id:          e.lastTxnID.Add(1),
		app:         app,
		multiGroup:  multiGroup,
		state:       activeTxn,
		trackers:    map[string]*tracker{},
		kindIndexes: map[string][]index.Index{},
	}
}

func (t *txn) String() string {
	return fmt.Sprintf("transaction-%d", t.id)
}

func (t *txn) checkActive() error {
	if t.state != activeTxn {
		return errors.New(errors.ErrBadRequest, "transaction closed")
	}
	return nil
}

func (t *txn) getTracker(e *Engine, key entity.Key) (*tracker, error) {
	group := key.EntityGroup()
	id := encode.KeyID(group)
	tr, ok := t.trackers[id]
	if !ok {
		if key.App != t.app {
			return nil, errors.Newf(errors.ErrBadRequest,
				"Transactions cannot span applications (expected %s, got %s)", t.app, key.App)
		}
		if t.multiGroup {
			if len(t.trackers) >= e.maxGroups {
				return nil, errors.New(errors.ErrBadRequest,
					"operating on too many entity groups in a single transaction.")
			}
		} else if len(t.trackers) >= 1 {
			return nil, errors.New(errors.ErrBadRequest,
				"transaction touches more than one entity group; begin it as cross group")
		}

		tr = newTracker(group)
		t.trackers[id] = tr
	}
	return tr, nil
}

// allTrackers returns the trackers of t in key order; a transaction which
// touched no entity group gets the global group.
func (t *txn) allTrackers(e *Engine) ([]*tracker, error) {
	if len(t.trackers) == 0 {
		_, err := t.getTracker(e, entity.NewKey(t.app, "", entity.IDElement(globalKind, 1)))
		if err != nil {
			return nil, err
		}
	}

	trs := make([]*tracker, 0, len(t.trackers))
	for _, id := range sortedIDs(t.trackers) {
		trs = append(trs, t.trackers[id])
	}
	return trs, nil
}

// grabSnapshot returns the snapshot of key's entity group. The first
// snapshot of a group checks that no other group already snapshotted by t
// has been committed to since; otherwise the snapshots would not be
// consistent with each other.
func (t *txn) grabSnapshot(e *Engine, key entity.Key) (map[string]*entity.Entity, error) {
	tr, err := t.getTracker(e, key)
	if err != nil {
		return nil, err
	}
	checkContention := tr.snapshot == nil
	snapshot, err := tr.grabSnapshot(e)
	if err != nil {
		return nil, err
	}

	if checkContention {
		var others []*tracker
		var gms []*groupMeta
		for _, other := range t.trackers {
			if other != tr && other.snapshot != nil {
				others = append(others, other)
				gms = append(gms, other.gm)
			}
		}

		lockGroups(gms)
		defer unlockGroups(gms)

		for _, other := range others {
			if other.gm.logPos != other.readPos {
				t.state = failedTxn
				return nil, errors.New(errors.ErrConcurrentModification, "Concurrency exception.")
			}
		}
	}
	return snapshot, nil
}

func (t *txn) getLocked(e *Engine, key entity.Key) (*entity.Entity, error) {
	snapshot, err := t.grabSnapshot(e, key)
	if err != nil {
		return nil, err
	}
	return snapshot[encode.KeyID(key)].Clone(), nil
}

// get returns the entity for key as of the snapshot of its group; puts and
// deletes made by t are not visible.
func (t *txn) get(e *Engine, key entity.Key) (*entity.Entity, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.checkActive()
	if err != nil {
		return nil, err
	}
	return t.getLocked(e, key)
}

// snapshotEntities returns the entities of the snapshot of key's group.
func (t *txn) snapshotEntities(e *Engine, key entity.Key) ([]*entity.Entity, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.checkActive()
	if err != nil {
		return nil, err
	}
	snapshot, err := t.grabSnapshot(e, key)
	if err != nil {
		return nil, err
	}

	entities := make([]*entity.Entity, 0, len(snapshot))
	for _, id := range sortedIDs(snapshot) {
		entities = append(entities, snapshot[id])
	}
	return entities, nil
}

// readPosition returns the log position of key's group as of t's snapshot.
func (t *txn) readPosition(e *Engine, key entity.Key) (int64, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.checkActive()
	if err != nil {
		return 0, err
	}
	tr, err := t.getTracker(e, key)
	if err != nil {
		return 0, err
	}
	_, err = tr.grabSnapshot(e)
	if err != nil {
		return 0, err
	}
	return tr.readPos, nil
}

func (t *txn) put(e *Engine, ent *entity.Entity, insert bool, indexes []index.Index) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.checkActive()
	if err != nil {
		return err
	}
	tr, err := t.getTracker(e, ent.Key)
	if err != nil {
		return err
	}

	id := encode.KeyID(ent.Key)
	delete(tr.deletes, id)
	tr.puts[id] = pendingPut{entity: ent, insert: insert}
	t.kindIndexes[ent.Key.Kind()] = indexes
	return nil
}

func (t *txn) delete(e *Engine, key entity.Key, indexes []index.Index) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.checkActive()
	if err != nil {
		return err
	}
	tr, err := t.getTracker(e, key)
	if err != nil {
		return err
	}

	id := encode.KeyID(key)
	delete(tr.puts, id)
	tr.deletes[id] = key
	t.kindIndexes[key.Kind()] = indexes
	return nil
}

func (t *txn) addActions(actions []Action, max int) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.checkActive()
	if err != nil {
		return err
	}
	if max > 0 && len(t.actions)+len(actions) > max {
		return errors.Newf(errors.ErrBadRequest, "Too many messages, maximum allowed %d", max)
	}
	t.actions = append(t.actions, actions...)
	return nil
}

func (t *txn) rollbackLocked(e *Engine) error {
	defer e.removeTxn(t)

	if t.state != activeTxn && t.state != failedTxn {
		return errors.New(errors.ErrBadRequest, "transaction closed")
	}
	t.state = rolledBackTxn
	e.metrics.transactions.WithLabelValues("rolled_back").Inc()
	log.WithFields(log.Fields{"txn": t.id, "app": t.app}).Debug("rollback")
	return nil
}

func (t *txn) rollback(e *Engine) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.rollbackLocked(e)
}

func (t *txn) addWriteOps(old, new *entity.Entity) {
	var kind string
	if new != nil {
		kind = new.Key.Kind()
	} else if old != nil {
		kind = old.Key.Kind()
	} else {
		return
	}
	t.cost.Add(index.WriteOps(t.kindIndexes[kind], old, new))
}

// prepareCommit snapshots every group of t and computes the cost of the
// commit. It returns no groups when there is nothing to commit.
func (t *txn) prepareCommit(e *Engine) ([]*tracker, []*groupMeta, error) {
	trs, err := t.allTrackers(e)
	if err != nil {
		return nil, nil, err
	}

	empty := true
	for _, tr := range trs {
		snapshot, err := tr.grabSnapshot(e)
		if err != nil {
			return nil, nil, err
		}
		empty = empty && tr.empty()

		for _, id := range sortedIDs(tr.puts) {
			put := tr.puts[id]
			if put.insert {
				old, err := t.getLocked(e, put.entity.Key)
				if err != nil {
					return nil, nil, err
				}
				if old != nil {
					return nil, nil, errors.New(errors.ErrBadRequest,
						"the id allocated for a new entity was already in use, please try again")
				}
			}
			t.addWriteOps(snapshot[id], put.entity)
		}

		for _, id := range sortedIDs(tr.deletes) {
			if old, ok := snapshot[id]; ok && old != nil {
				t.addWriteOps(old, nil)
			}
		}
	}

	if empty && len(t.actions) == 0 {
		return nil, nil, nil
	}

	gms := make([]*groupMeta, 0, len(trs))
	for _, tr := range trs {
		gms = append(gms, tr.gm)
	}
	return trs, gms, nil
}

func (t *txn) commit(ctx context.Context, e *Engine) (index.Cost, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state == failedTxn {
		t.rollbackLocked(e)
		return index.Cost{}, errors.New(errors.ErrConcurrentModification,
			"Concurrency exception.")
	}
	err := t.checkActive()
	if err != nil {
		return index.Cost{}, err
	}

	start := e.clock.Now()
	trs, gms, err := t.prepareCommit(e)
	if err != nil {
		t.rollbackLocked(e)
		return index.Cost{}, err
	} else if gms == nil {
		t.rollbackLocked(e)
		return index.Cost{}, nil
	}

	lockGroups(gms)
	for _, tr := range trs {
		if tr.gm.logPos != tr.readPos {
			t.rollbackLocked(e)
			unlockGroups(gms)
			e.metrics.conflicts.Inc()
			return index.Cost{}, errors.New(errors.ErrConcurrentModification,
				"Concurrency exception.")
		}
	}

	for _, tr := range trs {
		tr.gm.log(t)
	}
	e.metrics.pending.Add(float64(len(trs)))
	t.state = committedTxn
	t.commitTime = e.clock.Now()
	e.removeTxn(t)
	unlockGroups(gms)

	e.metrics.transactions.WithLabelValues("committed").Inc()
	e.metrics.commitSeconds.Observe(e.clock.Since(start).Seconds())
	log.WithFields(log.Fields{
		"txn":    t.id,
		"app":    t.app,
		"groups": len(trs),
	}).Debug("commit")

	t.runActions(ctx, e)

	err = e.policy.onCommit(e, t)
	if err != nil {
		log.WithFields(log.Fields{"txn": t.id, "app": t.app}).WithError(err).
			Error("apply committed transaction")
		return t.cost, errors.Wrap(err, "engine: apply committed transaction")
	}
	return t.cost, nil
}

func (t *txn) runActions(ctx context.Context, e *Engine) {
	for _, action := range t.actions {
		var err error
		if e.actions == nil {
			err = errors.New(errors.ErrInternal, "no action handler")
		} else {
			err = e.actions(ctx, t.app, action)
		}
		if err != nil {
			e.metrics.droppedActions.Inc()
			log.WithFields(log.Fields{
				"txn":    t.id,
				"app":    t.app,
				"action": action,
			}).WithError(err).Warn("action dropped")
		}
	}
	t.actions = nil
}

// apply writes the puts and deletes of t for one group to the store; gm.mutex
// must be held and t must be at the head of gm's queue.
func (t *txn) apply(e *Engine, gm *groupMeta) error {
	t.applyMutex.Lock()
	defer t.applyMutex.Unlock()

	if t.state != committedTxn {
		return e.internalError("apply of %s to %s in state %s", t, gm, t.state)
	}
	tr, ok := t.trackers[gm.id]
	if !ok || tr.gm != gm {
		return e.internalError("apply of %s to %s: no such group", t, gm)
	}
	if tr.readPos == appliedPos {
		return e.internalError("apply of %s to %s: already applied", t, gm)
	}

	var puts []*entity.Entity
	for _, id := range sortedIDs(tr.puts) {
		puts = append(puts, tr.puts[id].entity)
	}
	var deletes []entity.Key
	for _, id := range sortedIDs(tr.deletes) {
		deletes = append(deletes, tr.deletes[id])
	}
	if len(puts) > 0 || len(deletes) > 0 {
		err := e.st.WriteBatch(puts, deletes)
		if err != nil {
			return err
		}
	}

	tr.readPos = appliedPos
	err := gm.unlog(t)
	if err != nil {
		log.WithFields(log.Fields{"txn": t.id, "group": gm.String()}).WithError(err).
			Error("unlog")
		return err
	}
	e.metrics.pending.Dec()
	e.metrics.applied.Inc()
	log.WithFields(log.Fields{"txn": t.id, "group": gm.String()}).Trace("apply")
	return nil
}

func (e *Engine) internalError(format string, args ...interface{}) error {
	err := errors.Newf(errors.ErrInternal, format, args...)
	log.Error(err)
	return err
}

// sortTxns orders transactions by id.
func sortTxns(txns []*txn) {
	sort.Slice(txns,
		func(i, j int) bool {
			return txns[i].id < txns[j].id
		})
}
