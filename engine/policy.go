package engine

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/egdb/errors"
)

// Policy decides when the writes of a committed transaction become visible
// to reads outside of it. The variants are Strong, TimeBased, and
// FixedProbability.
type Policy interface {
	fmt.Stringer
	isStrong() bool
	onCommit(e *Engine, t *txn) error
	onGroom(e *Engine, gms []*groupMeta) error
}

// Strong applies every transaction as part of its commit.
type Strong struct{}

func (Strong) String() string {
	return "strong"
}

func (Strong) isStrong() bool {
	return true
}

func (Strong) onCommit(e *Engine, t *txn) error {
	trs, err := t.allTrackers(e)
	if err != nil {
		return err
	}
	for _, tr := range trs {
		gm := tr.gm
		gm.mutex.Lock()
		err = gm.catchUp(e)
		gm.mutex.Unlock()
		if err != nil {
			return err
		}
	}
	return e.st.Flush()
}

func (Strong) onGroom(e *Engine, gms []*groupMeta) error {
	return nil
}

// groom applies, for each group, queued transactions while shouldApply
// allows, stopping at the first which must wait.
func groom(e *Engine, gms []*groupMeta, shouldApply func(t *txn, gm *groupMeta) bool) error {
	for _, gm := range gms {
		gm.mutex.Lock()
		for len(gm.queue) > 0 {
			t := gm.queue[0]
			if !shouldApply(t, gm) {
				break
			}
			err := t.apply(e, gm)
			if err != nil {
				gm.mutex.Unlock()
				return err
			}
		}
		gm.mutex.Unlock()
	}
	return nil
}

// draw returns a number in [0, 1) which depends only on seed, the
// transaction, and the group.
func draw(seed uint64, t *txn, gm *groupMeta) float64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], seed)
	binary.BigEndian.PutUint64(buf[8:], uint64(t.id))

	d := xxhash.New()
	d.Write(buf[:])
	d.WriteString(gm.id)
	return float64(d.Sum64()>>11) / (1 << 53)
}

// Bucket says that a fraction Probability of transactions, cumulatively, are
// visible after Delay.
type Bucket struct {
	Probability float64
	Delay       time.Duration
}

var DefaultBuckets = []Bucket{
	{Probability: 0.98, Delay: 100 * time.Millisecond},
	{Probability: 0.99, Delay: 300 * time.Millisecond},
	{Probability: 0.995, Delay: 2 * time.Second},
	{Probability: 1, Delay: 240 * time.Second},
}

// TimeBased makes a transaction visible to a group once enough time has
// passed since it committed; how much depends on which bucket the
// transaction and group draw.
type TimeBased struct {
	buckets []Bucket
	seed    uint64
}

// NewTimeBased returns a TimeBased policy; no buckets means DefaultBuckets.
func NewTimeBased(buckets []Bucket, seed uint64) (*TimeBased, error) {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	for _, b := range buckets {
		if b.Probability < 0 || b.Probability > 1 || b.Delay <= 0 {
			return nil, errors.Newf(errors.ErrBadRequest,
				"buckets must be (probability, delay) pairs with probability between 0 and 1 "+
					"and positive delay, found %v", buckets)
		}
	}

	buckets = append([]Bucket(nil), buckets...)
	sort.Slice(buckets,
		func(i, j int) bool {
			if buckets[i].Probability == buckets[j].Probability {
				return buckets[i].Delay < buckets[j].Delay
			}
			return buckets[i].Probability < buckets[j].Probability
		})
	return &TimeBased{
		buckets: buckets,
		seed:    seed,
	}, nil
}

func (tb *TimeBased) String() string {
	return fmt.Sprintf("time-based%v", tb.buckets)
}

func (*TimeBased) isStrong() bool {
	return false
}

func (*TimeBased) onCommit(e *Engine, t *txn) error {
	return nil
}

func (tb *TimeBased) delay(classification float64) time.Duration {
	var delay time.Duration
	for _, b := range tb.buckets {
		delay = b.Delay
		if classification <= b.Probability {
			break
		}
	}
	return delay
}

func (tb *TimeBased) onGroom(e *Engine, gms []*groupMeta) error {
	now := e.clock.Now()
	return groom(e, gms,
		func(t *txn, gm *groupMeta) bool {
			delay := tb.delay(draw(tb.seed, t, gm))
			apply := now.Sub(t.commitTime) >= delay
			log.WithFields(log.Fields{
				"txn":   t.id,
				"group": gm.String(),
				"delay": delay,
				"apply": apply,
			}).Trace("time-based policy")
			return apply
		})
}

// FixedProbability makes a transaction visible to a group at the first
// groom with probability Probability; the outcome for a transaction and
// group is fixed by the seed.
type FixedProbability struct {
	probability float64
	seed        uint64
}

func NewFixedProbability(probability float64, seed uint64) (*FixedProbability, error) {
	if probability < 0 || probability > 1 {
		return nil, errors.Newf(errors.ErrBadRequest,
			"probability must be a number between 0 and 1, found %v", probability)
	}
	return &FixedProbability{
		probability: probability,
		seed:        seed,
	}, nil
}

func (fp *FixedProbability) String() string {
	return fmt.Sprintf("probability(%v)", fp.probability)
}

func (*FixedProbability) isStrong() bool {
	return false
}

func (*FixedProbability) onCommit(e *Engine, t *txn) error {
	return nil
}

func (fp *FixedProbability) onGroom(e *Engine, gms []*groupMeta) error {
	return groom(e, gms,
		func(t *txn, gm *groupMeta) bool {
			apply := draw(fp.seed, t, gm) < fp.probability
			log.WithFields(log.Fields{
				"txn":   t.id,
				"group": gm.String(),
				"apply": apply,
			}).Trace("probability policy")
			return apply
		})
}
