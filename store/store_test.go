package store_test

import (
	"path/filepath"
	"testing"

	"github.com/leftmike/egdb/encode"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/kv"
	"github.com/leftmike/egdb/store"
	"github.com/leftmike/egdb/testutil"
)

func person(name string, age int64) *entity.Entity {
	return &entity.Entity{
		Key: entity.NewKey("app", "", entity.NameElement("Person", name)),
		Properties: []entity.Property{
			{Name: "age", Value: entity.Int64Value(age)},
		},
	}
}

func pet(owner string, id int64) *entity.Entity {
	return &entity.Entity{
		Key: entity.NewKey("app", "", entity.NameElement("Person", owner),
			entity.IDElement("Pet", id)),
		Properties: []entity.Property{
			{Name: "legs", Value: entity.Int64Value(4)},
		},
	}
}

func testStore(t *testing.T, st *store.Store) {
	t.Helper()

	alice := person("alice", 30)
	al := person("al", 40)
	err := st.WriteBatch([]*entity.Entity{alice, al, pet("alice", 1), pet("alice", 2),
		pet("al", 1)}, nil)
	if err != nil {
		t.Fatalf("WriteBatch() failed with %s", err)
	}
	other := &entity.Entity{
		Key: entity.NewKey("app", "ns", entity.NameElement("Person", "alice")),
	}
	err = st.Write(other.Key, other)
	if err != nil {
		t.Fatalf("Write() failed with %s", err)
	}

	group, err := st.ReadEntityGroup(alice.Key)
	if err != nil {
		t.Fatalf("ReadEntityGroup() failed with %s", err)
	}
	if len(group) != 3 {
		t.Errorf("ReadEntityGroup(%s) got %d entities want 3", alice.Key, len(group))
	}
	var trc string
	if e, ok := group[encode.KeyID(alice.Key)]; !ok {
		t.Errorf("ReadEntityGroup(%s) missing %s", alice.Key, alice.Key)
	} else if !testutil.DeepEqual(e, alice, &trc) {
		t.Errorf("ReadEntityGroup(%s) got %s", alice.Key, trc)
	}

	e, err := st.Get(al.Key)
	if err != nil {
		t.Errorf("Get(%s) failed with %s", al.Key, err)
	} else if !e.Equal(al) {
		t.Errorf("Get(%s) got %v want %v", al.Key, e, al)
	}

	err = st.WriteBatch(nil, []entity.Key{pet("alice", 1).Key})
	if err != nil {
		t.Fatalf("WriteBatch() failed with %s", err)
	}
	err = st.Write(al.Key, nil)
	if err != nil {
		t.Fatalf("Write(nil) failed with %s", err)
	}
	e, err = st.Get(al.Key)
	if err != nil || e != nil {
		t.Errorf("Get(%s) got %v, %v want nil", al.Key, e, err)
	}

	var keys []string
	err = st.Scan("app", "",
		func(e *entity.Entity) error {
			keys = append(keys, e.Key.String())
			return nil
		})
	if err != nil {
		t.Fatalf("Scan() failed with %s", err)
	}
	want := []string{
		`app[Person:"al", Pet:1]`,
		`app[Person:"alice"]`,
		`app[Person:"alice", Pet:2]`,
	}
	if !testutil.DeepEqual(keys, want, &trc) {
		t.Errorf("Scan() got %s", trc)
	}

	var cnt int
	err = st.ScanApp("app",
		func(e *entity.Entity) error {
			cnt += 1
			return nil
		})
	if err != nil {
		t.Fatalf("ScanApp() failed with %s", err)
	} else if cnt != 4 {
		t.Errorf("ScanApp() got %d entities want 4", cnt)
	}

	start, end, err := st.AllocateIDs(10)
	if err != nil {
		t.Fatalf("AllocateIDs() failed with %s", err)
	} else if start != 1 || end != 10 {
		t.Errorf("AllocateIDs(10) got %d, %d want 1, 10", start, end)
	}
	start, end, err = st.ReserveID(5)
	if err != nil || start != 0 || end != 0 {
		t.Errorf("ReserveID(5) got %d, %d, %v want 0, 0", start, end, err)
	}
	start, end, err = st.ReserveID(100)
	if err != nil || start != 11 || end != 100 {
		t.Errorf("ReserveID(100) got %d, %d, %v want 11, 100", start, end, err)
	}
	start, end, err = st.AllocateIDs(1)
	if err != nil || start != 101 || end != 101 {
		t.Errorf("AllocateIDs(1) got %d, %d, %v want 101, 101", start, end, err)
	}
	_, _, err = st.AllocateIDs(0)
	if err == nil {
		t.Errorf("AllocateIDs(0) did not fail")
	}

	err = st.Flush()
	if err != nil {
		t.Errorf("Flush() failed with %s", err)
	}
}

func TestMemoryStore(t *testing.T) {
	st, err := store.Open("memory", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, st)
}

func TestBBoltStore(t *testing.T) {
	dataDir := filepath.Join("testdata", "bbolt_store")
	err := testutil.CleanDir(dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}

	st, err := store.Open("bbolt", dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	testStore(t, st)
}

func TestPebbleStore(t *testing.T) {
	dataDir := filepath.Join("testdata", "pebble_store")
	err := testutil.CleanDir(dataDir, nil)
	if err != nil {
		t.Fatal(err)
	}

	kvst, err := kv.MakePebbleKV(dataDir,
		testutil.SetupLogger(filepath.Join("testdata", "pebble_store.log")))
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(kvst)
	defer st.Close()

	testStore(t, st)
}
