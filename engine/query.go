package engine

import (
	"context"
	"sort"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/index"
	"github.com/leftmike/egdb/query"
)

// QueryResult is a batch of query results; if there are more results,
// CursorID names the cursor to pass to Next.
type QueryResult struct {
	query.Result
	CursorID int64
}

type QueryHistoryEntry struct {
	Signature string
	Count     int
	Index     *index.Definition
}

func (e *Engine) recordQuery(q *query.Query, req index.Requirement) {
	e.historyMutex.Lock()
	defer e.historyMutex.Unlock()

	sig := q.Signature()
	he, ok := e.history[sig]
	if !ok {
		he = &historyEntry{}
		if req.Required {
			def := req.Definition
			he.index = &def
		}
		e.history[sig] = he
	}
	he.count += 1
}

// QueryHistory returns how many times each distinct query was run, along
// with the composite index it needs, if any.
func (e *Engine) QueryHistory() []QueryHistoryEntry {
	e.historyMutex.Lock()
	defer e.historyMutex.Unlock()

	entries := make([]QueryHistoryEntry, 0, len(e.history))
	for sig, he := range e.history {
		entries = append(entries, QueryHistoryEntry{
			Signature: sig,
			Count:     he.count,
			Index:     he.index,
		})
	}
	sort.Slice(entries,
		func(i, j int) bool {
			return entries[i].Signature < entries[j].Signature
		})
	return entries
}

func (e *Engine) queryCursor(ctx context.Context, caller Caller, h *Handle,
	q *query.Query) (*query.ListCursor, error) {

	err := entity.CheckApp(caller.Trusted, caller.App, q.App)
	if err != nil {
		return nil, err
	}

	filters, orders := query.Normalize(q.Filters, q.Orders, q.Projection)
	err = query.Check(q, filters, orders, h != nil)
	if err != nil {
		return nil, err
	}

	pk, pseudo := e.lookupPseudoKind(q.Kind)
	e.recordQuery(q, index.ForQuery(q.Kind, q.Ancestor != nil, filters, orders))
	if e.requireIndexes && !pseudo {
		_, err = e.indexes.CheckQuery(q.App, q.Kind, q.Ancestor != nil, filters, orders)
		if err != nil {
			return nil, err
		}
	}

	var candidates []*entity.Entity
	var scan string
	if h != nil {
		if pseudo {
			return nil, errors.Newf(errors.ErrBadRequest,
				"transactional queries on \"%s\" not allowed", q.Kind)
		}
		t, err := e.lookup(caller, *h)
		if err != nil {
			return nil, err
		}
		candidates, err = t.snapshotEntities(e, *q.Ancestor)
		if err != nil {
			return nil, err
		}
		scan = "transactional"
	} else if q.Ancestor != nil && !pseudo {
		t := e.newTxn(q.App, false)
		candidates, err = t.snapshotEntities(e, *q.Ancestor)
		t.rollback(e)
		if err != nil {
			return nil, err
		}
		scan = "ancestor"
	} else {
		err = e.Groom()
		if err != nil {
			return nil, err
		}
		if pseudo {
			candidates, err = pk.query(e, q)
			scan = "pseudo"
		} else {
			err = e.st.Scan(q.App, q.Namespace,
				func(ent *entity.Entity) error {
					candidates = append(candidates, ent)
					return nil
				})
			scan = "global"
		}
		if err != nil {
			return nil, err
		}
	}

	e.metrics.queries.WithLabelValues(scan).Inc()
	return query.Execute(candidates, q, filters, orders)
}

// RunQuery runs q, within a transaction if h is not nil, and returns the
// first batch of results.
func (e *Engine) RunQuery(ctx context.Context, caller Caller, h *Handle,
	q *query.Query) (*QueryResult, error) {

	lc, err := e.queryCursor(ctx, caller, h, q)
	if err != nil {
		return nil, err
	}
	res, err := lc.PopulateResult(q.BatchCount(), q.Offset, q.Compile)
	if err != nil {
		return nil, err
	}

	qr := &QueryResult{Result: *res}
	if res.MoreResults {
		qr.CursorID = e.lastCursorID.Add(1)
		e.cursors.Store(qr.CursorID, &cursor{lc: lc})
	}
	return qr, nil
}

func (e *Engine) lookupCursor(caller Caller, id int64) (*cursor, error) {
	c, ok := e.cursors.Load(id)
	if !ok {
		return nil, errors.Newf(errors.ErrBadRequest, "Cursor %d not found", id)
	}
	err := entity.CheckApp(caller.Trusted, caller.App, c.lc.App)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Next returns the next batch of results from a cursor; a count of zero
// means the default batch size. The cursor is deleted once it has no more
// results.
func (e *Engine) Next(ctx context.Context, caller Caller, id int64, count, offset int,
	compile bool) (*QueryResult, error) {

	c, err := e.lookupCursor(caller, id)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		count = query.BatchSize
	}

	c.mutex.Lock()
	res, err := c.lc.PopulateResult(count, offset, compile)
	c.mutex.Unlock()
	if err != nil {
		return nil, err
	}

	qr := &QueryResult{Result: *res}
	if res.MoreResults {
		qr.CursorID = id
	} else {
		e.cursors.Delete(id)
	}
	return qr, nil
}

func (e *Engine) DeleteCursor(ctx context.Context, caller Caller, id int64) error {
	_, err := e.lookupCursor(caller, id)
	if err != nil {
		return err
	}
	e.cursors.Delete(id)
	return nil
}
