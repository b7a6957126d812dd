package engine

import (
	"context"
	"math/bits"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
)

const (
	MaxSequentialID = 1<<52 - 1
	MaxScatteredID  = MaxSequentialID + 1 + maxScatteredCounter

	maxScatteredCounter = 1<<51 - 1
	scatterShift        = 64 - 52 + 1
)

// ToScatteredID maps a counter onto the range of ids above MaxSequentialID,
// spreading consecutive counters apart.
func ToScatteredID(v int64) (int64, error) {
	if v < 0 || v >= maxScatteredCounter {
		return 0, errors.Newf(errors.ErrInternal, "counter value too large: %d", v)
	}
	return MaxSequentialID + 1 + int64(bits.Reverse64(uint64(v)<<scatterShift)), nil
}

// isSequentialID returns true if id could have been allocated
// sequentially; only those ids need to be reserved.
func isSequentialID(id int64) bool {
	return id > 0 && id <= MaxSequentialID
}

func (e *Engine) newID() (int64, error) {
	start, _, err := e.st.AllocateIDs(1)
	if err != nil {
		return 0, err
	}
	if e.autoID == Scattered {
		return ToScatteredID(start)
	}
	return start, nil
}

// reserveID makes sure that id will not be allocated for a new entity.
func (e *Engine) reserveID(id int64) error {
	if !isSequentialID(id) {
		return nil
	}
	_, _, err := e.st.ReserveID(id)
	return err
}

// AllocateIDs reserves a range of sequential ids for key's kind and returns
// the first and last. Either size or max must be given, not both; with max,
// every id up to max is reserved and the range is empty if all of them were
// already reserved.
func (e *Engine) AllocateIDs(ctx context.Context, caller Caller, key entity.Key, size,
	max int64) (int64, int64, error) {

	err := entity.CheckKey(caller.Trusted, caller.App, key, false)
	if err != nil {
		return 0, 0, err
	}

	if size != 0 && max != 0 {
		return 0, 0, errors.New(errors.ErrBadRequest, "Both size and max cannot be set.")
	} else if size > 0 {
		if size > MaxSequentialID {
			return 0, 0, errors.Newf(errors.ErrBadRequest, "size too large: %d", size)
		}
		return e.st.AllocateIDs(size)
	} else if max > 0 {
		if max > MaxSequentialID {
			return 0, 0, errors.Newf(errors.ErrBadRequest, "max too large: %d", max)
		}
		return e.st.ReserveID(max)
	}
	return 0, 0, errors.New(errors.ErrBadRequest, "size or max must be positive")
}
