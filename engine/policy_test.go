package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
)

func TestTimeBasedBuckets(t *testing.T) {
	_, err := NewTimeBased([]Bucket{{Probability: 1.5, Delay: time.Second}}, 0)
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("NewTimeBased(1.5) got %v want BadRequest", err)
	}
	_, err = NewTimeBased([]Bucket{{Probability: 0.5}}, 0)
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("NewTimeBased(0 delay) got %v want BadRequest", err)
	}

	tb, err := NewTimeBased(nil, 0)
	if err != nil {
		t.Fatalf("NewTimeBased() failed with %s", err)
	}
	cases := []struct {
		classification float64
		delay          time.Duration
	}{
		{0, 100 * time.Millisecond},
		{0.5, 100 * time.Millisecond},
		{0.98, 100 * time.Millisecond},
		{0.985, 300 * time.Millisecond},
		{0.993, 2 * time.Second},
		{0.999, 240 * time.Second},
	}
	for _, c := range cases {
		if d := tb.delay(c.classification); d != c.delay {
			t.Errorf("delay(%v) got %s want %s", c.classification, d, c.delay)
		}
	}

	tb, err = NewTimeBased([]Bucket{
		{Probability: 1, Delay: 3 * time.Second},
		{Probability: 0.5, Delay: time.Second},
	}, 0)
	if err != nil {
		t.Fatalf("NewTimeBased() failed with %s", err)
	}
	if d := tb.delay(0.25); d != time.Second {
		t.Errorf("delay(0.25) got %s want 1s", d)
	}
	if d := tb.delay(0.75); d != 3*time.Second {
		t.Errorf("delay(0.75) got %s want 3s", d)
	}
}

func TestDraw(t *testing.T) {
	t1 := &txn{id: 1}
	t2 := &txn{id: 2}
	gm1 := newGroupMeta(personKey("x", "alice"))
	gm2 := newGroupMeta(personKey("x", "bob"))

	d := draw(7, t1, gm1)
	if d < 0 || d >= 1 {
		t.Errorf("draw() got %v want [0, 1)", d)
	}
	if draw(7, t1, gm1) != d {
		t.Errorf("draw() is not deterministic")
	}
	if draw(7, t2, gm1) == d && draw(7, t1, gm2) == d && draw(8, t1, gm1) == d {
		t.Errorf("draw() ignores its arguments")
	}
}

func TestFixedProbability(t *testing.T) {
	_, err := NewFixedProbability(-0.1, 0)
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("NewFixedProbability(-0.1) got %v want BadRequest", err)
	}

	ctx := context.Background()
	x := Caller{App: "x"}
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for _, p := range []float64{0, 1} {
		fp, err := NewFixedProbability(p, 1)
		if err != nil {
			t.Fatalf("NewFixedProbability(%v) failed with %s", p, err)
		}
		e := newTestEngine(t, Config{Policy: fp})
		for _, name := range names {
			putOne(t, e, x, nil, person("x", name, 1))
		}
		err = e.Groom()
		if err != nil {
			t.Fatalf("Groom() failed with %s", err)
		}
		want := 0
		if p == 0 {
			want = len(names)
		}
		if n := e.Pending(); n != want {
			t.Errorf("probability(%v): Pending() got %d want %d", p, n, want)
		}
	}

	pending := func() []bool {
		fp, err := NewFixedProbability(0.5, 42)
		if err != nil {
			t.Fatalf("NewFixedProbability(0.5) failed with %s", err)
		}
		e := newTestEngine(t, Config{Policy: fp})
		for _, name := range names {
			putOne(t, e, x, nil, person("x", name, 1))
		}
		err = e.Groom()
		if err != nil {
			t.Fatalf("Groom() failed with %s", err)
		}
		var ret []bool
		for _, name := range names {
			ent, err := e.Get(ctx, x, nil, []entity.Key{personKey("x", name)}, true)
			if err != nil {
				t.Fatalf("Get() failed with %s", err)
			}
			ret = append(ret, ent[0] == nil)
		}
		return ret
	}
	p1 := pending()
	p2 := pending()
	for idx := range p1 {
		if p1[idx] != p2[idx] {
			t.Errorf("probability(0.5) is not reproducible: %v and %v", p1, p2)
			break
		}
	}
}

func TestGroomStopsAtHead(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(t, Config{Policy: timeBased(t, time.Second), Clock: clock})
	x := Caller{App: "x"}

	putOne(t, e, x, nil, person("x", "alice", 1))
	clock.Advance(500 * time.Millisecond)
	putOne(t, e, x, nil, person("x", "bob", 1))
	clock.Advance(500 * time.Millisecond)

	err := e.Groom()
	if err != nil {
		t.Fatalf("Groom() failed with %s", err)
	}
	if n := e.Pending(); n != 1 {
		t.Errorf("Pending() got %d want 1", n)
	}
	if ent := getOne(t, e, x, nil, personKey("x", "alice"), true); ent == nil {
		t.Errorf("Get(alice) got nil")
	}
	if ent := getOne(t, e, x, nil, personKey("x", "bob"), true); ent != nil {
		t.Errorf("Get(bob) got %v want nil", ent)
	}
}
