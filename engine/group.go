package engine

import (
	"sort"
	"sync"

	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
)

// groupMeta is the state shared by every transaction on one entity group.
// The mutex must be held to take a snapshot, log or apply a transaction, or
// to read logPos and queue.
type groupMeta struct {
	group    entity.Key
	id       string
	mutex    sync.Mutex
	logPos   int64
	queue    []*txn
	snapshot map[string]*entity.Entity
}

func newGroupMeta(group entity.Key) *groupMeta {
	return &groupMeta{
		group:  group,
		id:     encode.KeyID(group),
		logPos: -1,
	}
}

func (gm *groupMeta) String() string {
	return gm.group.String()
}

// catchUp applies every queued transaction; gm.mutex must be held.
func (gm *groupMeta) catchUp(e *Engine) error {
	for len(gm.queue) > 0 {
		err := gm.queue[0].apply(e, gm)
		if err != nil {
			return err
		}
	}
	return nil
}

// log queues t to be applied; gm.mutex must be held.
func (gm *groupMeta) log(t *txn) {
	gm.queue = append(gm.queue, t)
	gm.logPos += 1
	gm.snapshot = nil
}

// unlog removes t from the head of the queue; gm.mutex must be held.
func (gm *groupMeta) unlog(t *txn) error {
	if len(gm.queue) == 0 || gm.queue[0] != t {
		return errors.New(errors.ErrInternal, "Transaction is not appliable")
	}
	gm.queue[0] = nil
	gm.queue = gm.queue[1:]
	return nil
}

func (gm *groupMeta) pending() int {
	gm.mutex.Lock()
	defer gm.mutex.Unlock()

	return len(gm.queue)
}

func (e *Engine) groupMeta(group entity.Key) *groupMeta {
	gm, _ := e.groups.LoadOrCompute(encode.KeyID(group),
		func() *groupMeta {
			return newGroupMeta(group.Clone())
		})
	return gm
}

// allGroupMetas returns every known entity group in key order.
func (e *Engine) allGroupMetas() []*groupMeta {
	var gms []*groupMeta
	e.groups.Range(
		func(id string, gm *groupMeta) bool {
			gms = append(gms, gm)
			return true
		})
	sortGroupMetas(gms)
	return gms
}

func sortGroupMetas(gms []*groupMeta) {
	sort.Slice(gms,
		func(i, j int) bool {
			return gms[i].id < gms[j].id
		})
}

// grabSnapshot returns the contents of group as of its current log position.
func (e *Engine) grabSnapshot(group entity.Key) (*groupMeta, int64, map[string]*entity.Entity,
	error) {

	gm := e.groupMeta(group)
	gm.mutex.Lock()
	defer gm.mutex.Unlock()

	if gm.snapshot == nil {
		err := gm.catchUp(e)
		if err != nil {
			return nil, 0, nil, err
		}
		snapshot, err := e.st.ReadEntityGroup(group)
		if err != nil {
			return nil, 0, nil, err
		}
		gm.snapshot = snapshot
	}
	return gm, gm.logPos, gm.snapshot, nil
}

// lockGroups locks gms in key order; unlockGroups releases them.
func lockGroups(gms []*groupMeta) {
	gms = append([]*groupMeta(nil), gms...)
	sortGroupMetas(gms)
	for _, gm := range gms {
		gm.mutex.Lock()
	}
}

func unlockGroups(gms []*groupMeta) {
	for _, gm := range gms {
		gm.mutex.Unlock()
	}
}

// tracker is the state of one entity group within one transaction.
type tracker struct {
	group    entity.Key
	snapshot map[string]*entity.Entity
	readPos  int64
	puts     map[string]pendingPut
	deletes  map[string]entity.Key
	gm       *groupMeta
}

type pendingPut struct {
	entity *entity.Entity
	insert bool
}

const appliedPos = -2

func newTracker(group entity.Key) *tracker {
	return &tracker{
		group:   group,
		puts:    map[string]pendingPut{},
		deletes: map[string]entity.Key{},
	}
}

func (tr *tracker) grabSnapshot(e *Engine) (map[string]*entity.Entity, error) {
	if tr.snapshot == nil {
		gm, pos, snapshot, err := e.grabSnapshot(tr.group)
		if err != nil {
			return nil, err
		}
		tr.gm = gm
		tr.readPos = pos
		tr.snapshot = snapshot
	}
	return tr.snapshot, nil
}

func (tr *tracker) empty() bool {
	return len(tr.puts) == 0 && len(tr.deletes) == 0
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
