// Package engine is a transactional store of entities. Transactions are
// scoped to entity groups and use optimistic concurrency control; a Policy
// controls when committed writes become visible outside of the transaction.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/index"
	"github.com/leftmike/egdb/query"
)

const (
	MaxActionsPerTxn = 5
	MaxGroupsPerTxn  = 5
	MaxEntitySize    = 1 << 20
)

// Store is the persistence layer under the engine; store.Store implements
// it.
type Store interface {
	ReadEntityGroup(group entity.Key) (map[string]*entity.Entity, error)
	Scan(app, namespace string, fn func(e *entity.Entity) error) error
	ScanApp(app string, fn func(e *entity.Entity) error) error
	Get(key entity.Key) (*entity.Entity, error)
	WriteBatch(puts []*entity.Entity, deletes []entity.Key) error
	AllocateIDs(size int64) (int64, int64, error)
	ReserveID(max int64) (int64, int64, error)
	Flush() error
	Close() error
}

type AutoIDPolicy int

const (
	Sequential AutoIDPolicy = iota
	Scattered
)

func (aip AutoIDPolicy) String() string {
	switch aip {
	case Sequential:
		return "sequential"
	case Scattered:
		return "scattered"
	}
	return fmt.Sprintf("AutoIDPolicy(%d)", int(aip))
}

func ParseAutoIDPolicy(s string) (AutoIDPolicy, error) {
	switch s {
	case "sequential":
		return Sequential, nil
	case "scattered":
		return Scattered, nil
	}
	return 0, errors.Newf(errors.ErrBadRequest, "unknown auto id policy: %s", s)
}

// Action is a side effect run after a transaction commits; for example,
// enqueuing a task.
type Action struct {
	Name    string
	Payload []byte
}

func (a Action) String() string {
	return fmt.Sprintf("%s(%d bytes)", a.Name, len(a.Payload))
}

// ActionHandler runs an action for app. Errors are logged and dropped.
type ActionHandler func(ctx context.Context, app string, a Action) error

type Config struct {
	Store           Store
	Policy          Policy
	Clock           clockwork.Clock
	RequireIndexes  bool
	MaxGroupsPerTxn int
	AutoIDPolicy    AutoIDPolicy
	Actions         ActionHandler
	Registerer      prometheus.Registerer
}

// Caller identifies the application making a request. A trusted caller may
// access the entities of other applications.
type Caller struct {
	App     string
	Trusted bool
}

// Handle names a transaction returned by BeginTransaction.
type Handle struct {
	App string
	ID  int64
}

func (h Handle) String() string {
	return fmt.Sprintf("%s/transaction-%d", h.App, h.ID)
}

type cursor struct {
	mutex sync.Mutex
	lc    *query.ListCursor
}

type historyEntry struct {
	count int
	index *index.Definition
}

type Engine struct {
	st             Store
	policy         Policy
	clock          clockwork.Clock
	requireIndexes bool
	maxGroups      int
	autoID         AutoIDPolicy
	actions        ActionHandler
	metrics        *metrics
	gatherer       prometheus.Gatherer
	indexes        *index.Manager
	groups         *xsync.MapOf[string, *groupMeta]
	txns           *xsync.MapOf[int64, *txn]
	lastTxnID      atomic.Int64
	cursors        *xsync.MapOf[int64, *cursor]
	lastCursorID   atomic.Int64
	historyMutex   sync.Mutex
	history        map[string]*historyEntry
	baseVersion    int64
	pseudoKinds    map[string]pseudoKind
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New(errors.ErrBadRequest, "engine: missing store")
	}
	if cfg.Policy == nil {
		cfg.Policy = Strong{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxGroupsPerTxn <= 0 {
		cfg.MaxGroupsPerTxn = MaxGroupsPerTxn
	}

	var gatherer prometheus.Gatherer
	if cfg.Registerer == nil {
		reg := prometheus.NewRegistry()
		cfg.Registerer = reg
		gatherer = reg
	} else if g, ok := cfg.Registerer.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.Gatherers{}
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, errors.Wrap(err, "engine: register metrics")
	}

	e := &Engine{
		st:             cfg.Store,
		policy:         cfg.Policy,
		clock:          cfg.Clock,
		requireIndexes: cfg.RequireIndexes,
		maxGroups:      cfg.MaxGroupsPerTxn,
		autoID:         cfg.AutoIDPolicy,
		actions:        cfg.Actions,
		metrics:        m,
		gatherer:       gatherer,
		indexes:        index.NewManager(),
		groups:         xsync.NewMapOf[string, *groupMeta](),
		txns:           xsync.NewMapOf[int64, *txn](),
		cursors:        xsync.NewMapOf[int64, *cursor](),
		history:        map[string]*historyEntry{},
		baseVersion:    cfg.Clock.Now().UnixMicro(),
	}
	e.pseudoKinds = map[string]pseudoKind{
		entityGroupKind: entityGroupPseudoKind{},
		kindKind:        kindPseudoKind{},
		namespaceKind:   namespacePseudoKind{},
	}

	log.WithFields(log.Fields{
		"policy":          e.policy,
		"auto-id":         e.autoID,
		"require-indexes": e.requireIndexes,
		"max-groups":      e.maxGroups,
	}).Info("engine started")
	return e, nil
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Gatherer returns the metrics of the engine.
func (e *Engine) Gatherer() prometheus.Gatherer {
	return e.gatherer
}

func (e *Engine) BeginTransaction(ctx context.Context, caller Caller,
	multiGroup bool) (Handle, error) {

	if multiGroup && e.policy.isStrong() {
		return Handle{}, errors.New(errors.ErrBadRequest,
			"transactions on multiple entity groups only allowed with the High Replication "+
				"datastore")
	}

	t := e.newTxn(caller.App, multiGroup)
	e.txns.Store(t.id, t)
	log.WithFields(log.Fields{"txn": t.id, "app": t.app, "multi-group": multiGroup}).
		Debug("begin")
	return Handle{App: t.app, ID: t.id}, nil
}

func (e *Engine) lookup(caller Caller, h Handle) (*txn, error) {
	err := entity.CheckApp(caller.Trusted, caller.App, h.App)
	if err != nil {
		return nil, err
	}
	t, ok := e.txns.Load(h.ID)
	if !ok || t.app != h.App {
		return nil, errors.Newf(errors.ErrNotFound, "transaction %d not found", h.ID)
	}
	return t, nil
}

func (e *Engine) removeTxn(t *txn) {
	e.txns.Delete(t.id)
}

// Commit commits the transaction and returns the cost of its writes.
func (e *Engine) Commit(ctx context.Context, caller Caller, h Handle) (index.Cost, error) {
	t, err := e.lookup(caller, h)
	if err != nil {
		return index.Cost{}, err
	}
	return t.commit(ctx, e)
}

func (e *Engine) Rollback(ctx context.Context, caller Caller, h Handle) error {
	t, err := e.lookup(caller, h)
	if err != nil {
		return err
	}
	return t.rollback(e)
}

// AddActions queues actions to run once the transaction commits.
func (e *Engine) AddActions(ctx context.Context, caller Caller, h Handle,
	actions []Action) error {

	t, err := e.lookup(caller, h)
	if err != nil {
		return err
	}
	return t.addActions(actions, MaxActionsPerTxn)
}

// Groom gives the policy a chance to apply committed transactions.
func (e *Engine) Groom() error {
	return e.policy.onGroom(e, e.allGroupMetas())
}

// Flush applies every committed transaction, whatever the policy, and then
// flushes the store.
func (e *Engine) Flush() error {
	for _, gm := range e.allGroupMetas() {
		gm.mutex.Lock()
		err := gm.catchUp(e)
		gm.mutex.Unlock()
		if err != nil {
			return err
		}
	}
	return e.st.Flush()
}

// Pending returns the number of committed transactions waiting to be
// applied, summed over entity groups.
func (e *Engine) Pending() int {
	var n int
	for _, gm := range e.allGroupMetas() {
		n += gm.pending()
	}
	return n
}

// Close flushes the engine and closes its store. Open transactions and
// cursors are dropped.
func (e *Engine) Close() error {
	err := e.Flush()
	if err != nil {
		log.WithError(err).Error("engine: flush on close")
	}

	var txns []*txn
	e.txns.Range(
		func(id int64, t *txn) bool {
			txns = append(txns, t)
			return true
		})
	sortTxns(txns)
	for _, t := range txns {
		log.WithFields(log.Fields{"txn": t.id, "app": t.app}).Warn("open transaction dropped")
		e.txns.Delete(t.id)
	}
	e.cursors.Clear()

	cerr := e.st.Close()
	if err == nil {
		err = cerr
	}
	log.Info("engine closed")
	return err
}
