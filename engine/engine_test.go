package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/index"
	"github.com/leftmike/egdb/kv"
	"github.com/leftmike/egdb/query"
	"github.com/leftmike/egdb/store"
	"github.com/leftmike/egdb/testutil"
)

func fln() testutil.FileLineNumber {
	return testutil.MakeFileLineNumber()
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()

	st, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatalf("MakeBTreeKV() failed with %s", err)
	}
	cfg.Store = store.New(st)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed with %s", err)
	}
	return e
}

func timeBased(t *testing.T, delay time.Duration) Policy {
	t.Helper()

	p, err := NewTimeBased([]Bucket{{Probability: 1, Delay: delay}}, 0)
	if err != nil {
		t.Fatalf("NewTimeBased() failed with %s", err)
	}
	return p
}

func personKey(app, name string) entity.Key {
	return entity.NewKey(app, "", entity.NameElement("Person", name))
}

func person(app, name string, age int64) *entity.Entity {
	return &entity.Entity{
		Key: personKey(app, name),
		Properties: []entity.Property{
			{Name: "age", Value: entity.Int64Value(age)},
		},
	}
}

func pet(app, owner string, id int64, name string) *entity.Entity {
	return &entity.Entity{
		Key: personKey(app, owner).Child(entity.IDElement("Pet", id)),
		Properties: []entity.Property{
			{Name: "name", Value: entity.StringValue(name)},
		},
	}
}

func getOne(t *testing.T, e *Engine, caller Caller, h *Handle, key entity.Key,
	eventual bool) *entity.Entity {

	t.Helper()

	ents, err := e.Get(context.Background(), caller, h, []entity.Key{key}, eventual)
	if err != nil {
		t.Fatalf("Get(%s) failed with %s", key, err)
	}
	if len(ents) != 1 {
		t.Fatalf("Get(%s) got %d entities want 1", key, len(ents))
	}
	return ents[0]
}

func putOne(t *testing.T, e *Engine, caller Caller, h *Handle, ent *entity.Entity) entity.Key {
	t.Helper()

	keys, _, err := e.Put(context.Background(), caller, h, []*entity.Entity{ent})
	if err != nil {
		t.Fatalf("Put(%s) failed with %s", ent.Key, err)
	}
	return keys[0]
}

func TestStrongCommit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	x := Caller{App: "x"}

	h, err := e.BeginTransaction(ctx, x, false)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	alice := person("x", "alice", 30)
	putOne(t, e, x, &h, alice)
	cost, err := e.Commit(ctx, x, h)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	if cost != (index.Cost{EntityWrites: 1, IndexWrites: 3}) {
		t.Errorf("Commit() got cost %+v", cost)
	}

	var trc string
	for _, eventual := range []bool{false, true} {
		ent := getOne(t, e, x, nil, alice.Key, eventual)
		if !testutil.DeepEqual(ent, alice, &trc) {
			t.Errorf("Get(%s, eventual: %v) got %s", alice.Key, eventual, trc)
		}
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("Pending() got %d want 0", n)
	}

	err = e.Rollback(ctx, x, h)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Rollback(%s) after commit got %v want NotFound", h, err)
	}
}

func TestReplicatedVisibility(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	e := newTestEngine(t, Config{Policy: timeBased(t, time.Second), Clock: clock})
	x := Caller{App: "x"}

	alice := person("x", "alice", 30)
	putOne(t, e, x, nil, alice)
	if n := e.Pending(); n != 1 {
		t.Errorf("Pending() got %d want 1", n)
	}

	q := &query.Query{App: "x", Kind: "Person"}
	res, err := e.RunQuery(ctx, x, nil, q)
	if err != nil {
		t.Fatalf("RunQuery() failed with %s", err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("RunQuery() before delay got %v", testutil.Keys(res.Entities))
	}
	if ent := getOne(t, e, x, nil, alice.Key, true); ent != nil {
		t.Errorf("Get(%s, eventual) before delay got %v", alice.Key, ent)
	}

	clock.Advance(time.Second)
	res, err = e.RunQuery(ctx, x, nil, q)
	if err != nil {
		t.Fatalf("RunQuery() failed with %s", err)
	}
	var trc string
	if len(res.Entities) != 1 {
		t.Errorf("RunQuery() after delay got %v", testutil.Keys(res.Entities))
	} else if !testutil.DeepEqual(res.Entities[0], alice, &trc) {
		t.Errorf("RunQuery() after delay got %s", trc)
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("Pending() got %d want 0", n)
	}
}

func TestStrongReads(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{Policy: timeBased(t, time.Hour),
		Clock: clockwork.NewFakeClock()})
	x := Caller{App: "x"}

	alice := person("x", "alice", 30)
	putOne(t, e, x, nil, pet("x", "alice", 1, "fido"))
	putOne(t, e, x, nil, alice)

	res, err := e.RunQuery(ctx, x, nil, &query.Query{App: "x", Kind: "Person"})
	if err != nil {
		t.Fatalf("RunQuery() failed with %s", err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("global RunQuery() got %v", testutil.Keys(res.Entities))
	}

	ancestor := alice.Key
	res, err = e.RunQuery(ctx, x, nil, &query.Query{App: "x", Ancestor: &ancestor})
	if err != nil {
		t.Fatalf("RunQuery() failed with %s", err)
	}
	keys := testutil.Keys(res.Entities)
	want := []string{alice.Key.String(), pet("x", "alice", 1, "").Key.String()}
	if !testutil.DeepEqual(keys, want) {
		t.Errorf("ancestor RunQuery() got %v want %v", keys, want)
	}

	if ent := getOne(t, e, x, nil, alice.Key, false); !ent.Equal(alice) {
		t.Errorf("Get(%s) got %v want %v", alice.Key, ent, alice)
	}
}

func TestConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	x := Caller{App: "x"}
	key := personKey("x", "alice")

	h1, err := e.BeginTransaction(ctx, x, false)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	h2, err := e.BeginTransaction(ctx, x, false)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	getOne(t, e, x, &h1, key, false)
	getOne(t, e, x, &h2, key, false)

	putOne(t, e, x, &h1, person("x", "alice", 31))
	_, err = e.Commit(ctx, x, h1)
	if err != nil {
		t.Fatalf("Commit(%s) failed with %s", h1, err)
	}

	putOne(t, e, x, &h2, person("x", "alice", 32))
	_, err = e.Commit(ctx, x, h2)
	if !errors.Is(err, errors.ErrConcurrentModification) {
		t.Errorf("Commit(%s) got %v want ConcurrentModification", h2, err)
	}

	if ent := getOne(t, e, x, nil, key, false); !ent.Equal(person("x", "alice", 31)) {
		t.Errorf("Get(%s) got %v want age 31", key, ent)
	}
	err = e.Rollback(ctx, x, h2)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Rollback(%s) got %v want NotFound", h2, err)
	}
}

func TestNoDirtyReads(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	x := Caller{App: "x"}

	putOne(t, e, x, nil, person("x", "alice", 30))

	h, err := e.BeginTransaction(ctx, x, false)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	putOne(t, e, x, &h, person("x", "alice", 40))
	putOne(t, e, x, &h, person("x", "alice", 50).Clone())
	if ent := getOne(t, e, x, &h, personKey("x", "alice"), false); !ent.Equal(
		person("x", "alice", 30)) {

		t.Errorf("Get() in transaction got %v want age 30", ent)
	}
	_, err = e.Delete(ctx, x, &h, []entity.Key{personKey("x", "alice")})
	if err != nil {
		t.Fatalf("Delete() failed with %s", err)
	}
	if ent := getOne(t, e, x, &h, personKey("x", "alice"), false); ent == nil {
		t.Errorf("Get() in transaction after delete got nil")
	}

	cost, err := e.Commit(ctx, x, h)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	if cost.EntityWrites != 1 {
		t.Errorf("Commit() got cost %+v", cost)
	}
	if ent := getOne(t, e, x, nil, personKey("x", "alice"), false); ent != nil {
		t.Errorf("Get() after commit got %v want nil", ent)
	}
}

func TestTransactionErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	x := Caller{App: "x"}

	_, err := e.BeginTransaction(ctx, x, true)
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("BeginTransaction(multi-group) with strong policy got %v want BadRequest", err)
	}

	h, err := e.BeginTransaction(ctx, x, false)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	putOne(t, e, x, &h, person("x", "alice", 30))
	_, _, err = e.Put(ctx, x, &h, []*entity.Entity{person("x", "bob", 30)})
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("Put() second group got %v want BadRequest", err)
	}

	_, err = e.Get(ctx, Caller{App: "y"}, &h, []entity.Key{personKey("y", "alice")}, false)
	if !errors.Is(err, errors.ErrPermissionDenied) {
		t.Errorf("Get() other app got %v want PermissionDenied", err)
	}
	_, err = e.Get(ctx, x, &Handle{App: "x", ID: 999}, []entity.Key{personKey("x", "alice")},
		false)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get() unknown transaction got %v want NotFound", err)
	}

	err = e.Rollback(ctx, x, h)
	if err != nil {
		t.Fatalf("Rollback() failed with %s", err)
	}
	_, err = e.Commit(ctx, x, h)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Commit() after rollback got %v want NotFound", err)
	}
	if ent := getOne(t, e, x, nil, personKey("x", "alice"), false); ent != nil {
		t.Errorf("Get() after rollback got %v want nil", ent)
	}

	big := person("x", "big", 1)
	big.RawProperties = []entity.Property{
		{
			Name:    "blob",
			Value:   entity.StringValue(strings.Repeat("x", MaxEntitySize)),
			Meaning: entity.Blob,
		},
	}
	_, _, err = e.Put(ctx, x, nil, []*entity.Entity{big})
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("Put() too big got %v want BadRequest", err)
	}
}

func TestMultiGroup(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{Policy: timeBased(t, time.Hour),
		Clock: clockwork.NewFakeClock()})
	x := Caller{App: "x"}

	h, err := e.BeginTransaction(ctx, x, true)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	names := []string{"a", "b", "c", "d", "e", "f"}
	for idx, name := range names {
		_, _, err = e.Put(ctx, x, &h, []*entity.Entity{person("x", name, int64(idx))})
		if idx < MaxGroupsPerTxn && err != nil {
			t.Errorf("Put(%s) failed with %s", name, err)
		} else if idx >= MaxGroupsPerTxn && !errors.Is(err, errors.ErrBadRequest) {
			t.Errorf("Put(%s) got %v want BadRequest", name, err)
		}
	}
	_, err = e.Commit(ctx, x, h)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	if n := e.Pending(); n != MaxGroupsPerTxn {
		t.Errorf("Pending() got %d want %d", n, MaxGroupsPerTxn)
	}

	err = e.Flush()
	if err != nil {
		t.Fatalf("Flush() failed with %s", err)
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("Pending() after Flush() got %d want 0", n)
	}
	for _, name := range names[:MaxGroupsPerTxn] {
		if ent := getOne(t, e, x, nil, personKey("x", name), true); ent == nil {
			t.Errorf("Get(%s) after Flush() got nil", name)
		}
	}
}

func TestSnapshotContention(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{Policy: timeBased(t, time.Hour),
		Clock: clockwork.NewFakeClock()})
	x := Caller{App: "x"}

	h, err := e.BeginTransaction(ctx, x, true)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	getOne(t, e, x, &h, personKey("x", "alice"), false)

	putOne(t, e, x, nil, person("x", "alice", 30))

	_, err = e.Get(ctx, x, &h, []entity.Key{personKey("x", "bob")}, false)
	if !errors.Is(err, errors.ErrConcurrentModification) {
		t.Errorf("Get() after concurrent commit got %v want ConcurrentModification", err)
	}
	_, err = e.Get(ctx, x, &h, []entity.Key{personKey("x", "alice")}, false)
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("Get() in failed transaction got %v want BadRequest", err)
	}
	err = e.Rollback(ctx, x, h)
	if err != nil {
		t.Errorf("Rollback() of failed transaction failed with %s", err)
	}

	h, err = e.BeginTransaction(ctx, x, true)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	getOne(t, e, x, &h, personKey("x", "alice"), false)

	putOne(t, e, x, nil, person("x", "alice", 31))

	_, err = e.Get(ctx, x, &h, []entity.Key{personKey("x", "bob")}, false)
	if !errors.Is(err, errors.ErrConcurrentModification) {
		t.Errorf("Get() after concurrent commit got %v want ConcurrentModification", err)
	}
	_, err = e.Commit(ctx, x, h)
	if !errors.Is(err, errors.ErrConcurrentModification) {
		t.Errorf("Commit() of failed transaction got %v want ConcurrentModification", err)
	}
	err = e.Rollback(ctx, x, h)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Rollback() after failed Commit() got %v want NotFound", err)
	}
}

func TestAddWriteOps(t *testing.T) {
	alice := person("x", "alice", 30)
	cases := []struct {
		old, new *entity.Entity
		cost     index.Cost
	}{
		{old: nil, new: nil, cost: index.Cost{}},
		{old: nil, new: alice, cost: index.Cost{EntityWrites: 1, IndexWrites: 3}},
		{old: alice, new: nil, cost: index.Cost{EntityWrites: 1, IndexWrites: 3}},
		{old: alice, new: alice.Clone(), cost: index.Cost{}},
	}

	for _, c := range cases {
		tx := &txn{}
		tx.addWriteOps(c.old, c.new)
		if tx.cost != c.cost {
			t.Errorf("addWriteOps(%v, %v) got %+v want %+v", c.old, c.new, tx.cost, c.cost)
		}
	}
}

func TestApplyOnce(t *testing.T) {
	e := newTestEngine(t, Config{Policy: timeBased(t, time.Hour),
		Clock: clockwork.NewFakeClock()})
	x := Caller{App: "x"}

	alice := person("x", "alice", 30)
	putOne(t, e, x, nil, alice)

	gm := e.groupMeta(alice.Key.EntityGroup())
	gm.mutex.Lock()
	defer gm.mutex.Unlock()

	if len(gm.queue) != 1 {
		t.Fatalf("queue got %d transactions want 1", len(gm.queue))
	}
	tx := gm.queue[0]
	err := tx.apply(e, gm)
	if err != nil {
		t.Fatalf("apply() failed with %s", err)
	}
	err = tx.apply(e, gm)
	if !errors.Is(err, errors.ErrInternal) {
		t.Errorf("apply() twice got %v want Internal", err)
	}
	err = gm.unlog(tx)
	if !errors.Is(err, errors.ErrInternal) {
		t.Errorf("unlog() of applied transaction got %v want Internal", err)
	}

	ent, err := e.st.Get(alice.Key)
	if err != nil {
		t.Fatalf("Get() failed with %s", err)
	}
	if !ent.Equal(alice) {
		t.Errorf("Get(%s) got %v want %v", alice.Key, ent, alice)
	}
}

func TestApplyOrder(t *testing.T) {
	ctx := context.Background()
	x := Caller{App: "x"}
	strong := newTestEngine(t, Config{})
	replicated := newTestEngine(t, Config{Policy: timeBased(t, time.Hour),
		Clock: clockwork.NewFakeClock()})

	ops := []struct {
		fln    testutil.FileLineNumber
		put    *entity.Entity
		delete entity.Key
	}{
		{fln: fln(), put: person("x", "alice", 30)},
		{fln: fln(), put: pet("x", "alice", 1, "fido")},
		{fln: fln(), put: person("x", "alice", 31)},
		{fln: fln(), delete: pet("x", "alice", 1, "").Key},
		{fln: fln(), put: pet("x", "alice", 2, "rex")},
		{fln: fln(), put: person("x", "alice", 32)},
	}

	for _, e := range []*Engine{strong, replicated} {
		for _, op := range ops {
			var err error
			if op.put != nil {
				_, _, err = e.Put(ctx, x, nil, []*entity.Entity{op.put})
			} else {
				_, err = e.Delete(ctx, x, nil, []entity.Key{op.delete})
			}
			if err != nil {
				t.Fatalf("%s%s failed with %s", op.fln, e.policy, err)
			}
		}
		err := e.Flush()
		if err != nil {
			t.Fatalf("Flush() failed with %s", err)
		}
	}

	read := func(e *Engine) map[string]*entity.Entity {
		group, err := e.st.ReadEntityGroup(personKey("x", "alice"))
		if err != nil {
			t.Fatalf("ReadEntityGroup() failed with %s", err)
		}
		return group
	}
	var trc string
	if !testutil.DeepEqual(read(strong), read(replicated), &trc) {
		t.Errorf("entity groups differ: %s", trc)
	}
}

func TestRunInTransaction(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	x := Caller{App: "x"}

	putOne(t, e, x, nil, person("x", "alice", 30))

	var tries int
	_, err := e.RunInTransaction(ctx, x, TxnOptions{},
		func(ctx context.Context, h Handle) error {
			tries += 1
			ent := getOne(t, e, x, &h, personKey("x", "alice"), false)
			if tries == 1 {
				putOne(t, e, x, nil, person("x", "alice", 100))
			}
			age := ent.Values("age")[0].(entity.Int64Value)
			putOne(t, e, x, &h, person("x", "alice", int64(age)+1))
			return nil
		})
	if err != nil {
		t.Fatalf("RunInTransaction() failed with %s", err)
	}
	if tries != 2 {
		t.Errorf("RunInTransaction() got %d tries want 2", tries)
	}
	if ent := getOne(t, e, x, nil, personKey("x", "alice"), false); !ent.Equal(
		person("x", "alice", 101)) {

		t.Errorf("Get() got %v want age 101", ent)
	}

	_, err = e.RunInTransaction(ctx, x, TxnOptions{},
		func(ctx context.Context, h Handle) error {
			putOne(t, e, x, &h, person("x", "alice", 0))
			return errors.New(errors.ErrBadRequest, "stop")
		})
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("RunInTransaction() got %v want BadRequest", err)
	}
	if ent := getOne(t, e, x, nil, personKey("x", "alice"), false); !ent.Equal(
		person("x", "alice", 101)) {

		t.Errorf("Get() got %v want age 101", ent)
	}
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	type ran struct {
		app    string
		action Action
	}
	var actions []ran
	e := newTestEngine(t, Config{
		Actions: func(ctx context.Context, app string, a Action) error {
			actions = append(actions, ran{app, a})
			if a.Name == "fail" {
				return errors.New(errors.ErrInternal, "queue is full")
			}
			return nil
		},
	})
	x := Caller{App: "x"}

	h, err := e.BeginTransaction(ctx, x, false)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	err = e.AddActions(ctx, x, h, []Action{{Name: "fail"}, {Name: "send", Payload: []byte("hi")}})
	if err != nil {
		t.Fatalf("AddActions() failed with %s", err)
	}
	err = e.AddActions(ctx, x, h, make([]Action, MaxActionsPerTxn-1))
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("AddActions() too many got %v want BadRequest", err)
	}
	if len(actions) != 0 {
		t.Errorf("actions ran before commit: %v", actions)
	}

	_, err = e.Commit(ctx, x, h)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	want := []ran{
		{"x", Action{Name: "fail"}},
		{"x", Action{Name: "send", Payload: []byte("hi")}},
	}
	if len(actions) != len(want) {
		t.Fatalf("Commit() ran %v want %v", actions, want)
	}
	for idx := range want {
		if actions[idx].app != want[idx].app || actions[idx].action.Name != want[idx].action.Name ||
			string(actions[idx].action.Payload) != string(want[idx].action.Payload) {

			t.Errorf("Commit() ran %v want %v", actions[idx], want[idx])
		}
	}

	h, err = e.BeginTransaction(ctx, x, false)
	if err != nil {
		t.Fatalf("BeginTransaction() failed with %s", err)
	}
	cost, err := e.Commit(ctx, x, h)
	if err != nil {
		t.Fatalf("Commit() of empty transaction failed with %s", err)
	}
	if cost != (index.Cost{}) {
		t.Errorf("Commit() of empty transaction got %+v", cost)
	}
}
