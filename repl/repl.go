package repl

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	dto "github.com/prometheus/client_model/go"

	"github.com/leftmike/egdb/engine"
	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/index"
	"github.com/leftmike/egdb/query"
)

// LineReader returns one command line at a time and io.EOF when there are no
// more lines.
type LineReader interface {
	ReadLine() (string, error)
}

// Repl runs console commands against an engine on behalf of one
// application. At most one transaction and one cursor are open at a time.
type Repl struct {
	e         *engine.Engine
	caller    engine.Caller
	namespace string
	txn       *engine.Handle
	cursorID  int64
	config    func() [][]string
	w         io.Writer
}

func New(e *engine.Engine, app string, w io.Writer) *Repl {
	return &Repl{
		e:      e,
		caller: engine.Caller{App: app},
		w:      w,
	}
}

// SetConfig sets the function used by the config command to list the
// configuration as name, source, and value rows.
func (r *Repl) SetConfig(fn func() [][]string) {
	r.config = fn
}

type command struct {
	usage string
	run   func(r *Repl, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"begin":     {"begin [xg]", (*Repl).begin},
		"commit":    {"commit", (*Repl).commit},
		"rollback":  {"rollback", (*Repl).rollback},
		"put":       {"put key [[~]name=value]...", (*Repl).put},
		"get":       {"get [eventual] key...", (*Repl).get},
		"delete":    {"delete key...", (*Repl).delete},
		"allocate":  {"allocate key size", (*Repl).allocate},
		"query":     {"query kind|* [ancestor key] [where prop op value]... ...", (*Repl).query},
		"next":      {"next [count]", (*Repl).next},
		"index":     {"index create|update|delete|list ...", (*Repl).index},
		"history":   {"history", (*Repl).history},
		"namespace": {"namespace [name]", (*Repl).setNamespace},
		"groom":     {"groom", (*Repl).groom},
		"flush":     {"flush", (*Repl).flush},
		"stats":     {"stats", (*Repl).stats},
		"config":    {"config", (*Repl).showConfig},
		"help":      {"help", (*Repl).help},
	}
}

// Run executes lines until lr returns io.EOF or a quit or exit command.
// Errors from commands are written to the output and do not stop Run.
func (r *Repl) Run(ctx context.Context, lr LineReader) error {
	defer r.close(ctx)

	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "quit" || line == "exit" {
			return nil
		}
		err = r.Exec(ctx, line)
		if err != nil {
			fmt.Fprintln(r.w, err)
		}
	}
}

func (r *Repl) close(ctx context.Context) {
	if r.txn != nil {
		r.e.Rollback(ctx, r.caller, *r.txn)
		r.txn = nil
	}
	if r.cursorID != 0 {
		r.e.DeleteCursor(ctx, r.caller, r.cursorID)
		r.cursorID = 0
	}
}

// Exec executes a single command line; blank lines and lines starting with #
// are ignored.
func (r *Repl) Exec(ctx context.Context, line string) error {
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	words, err := tokenize(line)
	if err != nil {
		return err
	} else if len(words) == 0 {
		return nil
	}
	cmd, ok := commands[strings.ToLower(words[0])]
	if !ok {
		return errors.Newf(errors.ErrBadRequest, "unknown command: %s; try help", words[0])
	}
	return cmd.run(r, ctx, words[1:])
}

func (r *Repl) begin(ctx context.Context, args []string) error {
	if r.txn != nil {
		return errors.Newf(errors.ErrBadRequest, "transaction %d already active", r.txn.ID)
	}
	xg := len(args) == 1 && args[0] == "xg"
	if len(args) > 1 || (len(args) == 1 && !xg) {
		return errors.New(errors.ErrBadRequest, "usage: begin [xg]")
	}
	h, err := r.e.BeginTransaction(ctx, r.caller, xg)
	if err != nil {
		return err
	}
	r.txn = &h
	fmt.Fprintf(r.w, "transaction %d\n", h.ID)
	return nil
}

func (r *Repl) activeTxn() (engine.Handle, error) {
	if r.txn == nil {
		return engine.Handle{}, errors.New(errors.ErrBadRequest, "no active transaction")
	}
	h := *r.txn
	r.txn = nil
	return h, nil
}

func (r *Repl) commit(ctx context.Context, args []string) error {
	h, err := r.activeTxn()
	if err != nil {
		return err
	}
	cost, err := r.e.Commit(ctx, r.caller, h)
	if err != nil {
		r.e.Rollback(ctx, r.caller, h)
		return err
	}
	r.printCost("committed", cost)
	return nil
}

func (r *Repl) rollback(ctx context.Context, args []string) error {
	h, err := r.activeTxn()
	if err != nil {
		return err
	}
	err = r.e.Rollback(ctx, r.caller, h)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, "rolled back")
	return nil
}

func (r *Repl) printCost(what string, cost index.Cost) {
	fmt.Fprintf(r.w, "%s: %d entity writes, %d index writes\n", what, cost.EntityWrites,
		cost.IndexWrites)
}

func (r *Repl) put(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(errors.ErrBadRequest, "usage: put key [[~]name=value]...")
	}
	key, err := parseKey(r.caller.App, r.namespace, args[0])
	if err != nil {
		return err
	}
	props, raw, err := parseProperties(r.caller.App, r.namespace, args[1:])
	if err != nil {
		return err
	}

	keys, cost, err := r.e.Put(ctx, r.caller, r.txn,
		[]*entity.Entity{{Key: key, Properties: props, RawProperties: raw}})
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, keys[0])
	if r.txn == nil {
		r.printCost("put", cost)
	}
	return nil
}

func (r *Repl) get(ctx context.Context, args []string) error {
	eventual := len(args) > 0 && args[0] == "eventual"
	if eventual {
		args = args[1:]
	}
	if len(args) == 0 {
		return errors.New(errors.ErrBadRequest, "usage: get [eventual] key...")
	}
	keys, err := parseKeys(r.caller.App, r.namespace, args)
	if err != nil {
		return err
	}
	ents, err := r.e.Get(ctx, r.caller, r.txn, keys, eventual)
	if err != nil {
		return err
	}
	r.printEntities(ents, false)
	return nil
}

func (r *Repl) delete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(errors.ErrBadRequest, "usage: delete key...")
	}
	keys, err := parseKeys(r.caller.App, r.namespace, args)
	if err != nil {
		return err
	}
	cost, err := r.e.Delete(ctx, r.caller, r.txn, keys)
	if err != nil {
		return err
	}
	if r.txn == nil {
		r.printCost("delete", cost)
	}
	return nil
}

func (r *Repl) allocate(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New(errors.ErrBadRequest, "usage: allocate key size")
	}
	key, err := parseKey(r.caller.App, r.namespace, args[0])
	if err != nil {
		return err
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errors.Newf(errors.ErrBadRequest, "allocate: size: %s", err)
	}
	start, end, err := r.e.AllocateIDs(ctx, r.caller, key, size, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "ids %d to %d\n", start, end)
	return nil
}

func (r *Repl) query(ctx context.Context, args []string) error {
	q, err := parseQuery(r.caller.App, r.namespace, args)
	if err != nil {
		return err
	}
	if r.cursorID != 0 {
		r.e.DeleteCursor(ctx, r.caller, r.cursorID)
		r.cursorID = 0
	}
	qr, err := r.e.RunQuery(ctx, r.caller, r.txn, q)
	if err != nil {
		return err
	}
	r.printResult(qr)
	return nil
}

func (r *Repl) next(ctx context.Context, args []string) error {
	if r.cursorID == 0 {
		return errors.New(errors.ErrBadRequest, "no more results")
	}
	var count int
	if len(args) == 1 {
		var err error
		count, err = strconv.Atoi(args[0])
		if err != nil || count < 0 {
			return errors.Newf(errors.ErrBadRequest, "next: expected a count: %s", args[0])
		}
	} else if len(args) > 1 {
		return errors.New(errors.ErrBadRequest, "usage: next [count]")
	}

	qr, err := r.e.Next(ctx, r.caller, r.cursorID, count, 0, false)
	if err != nil {
		r.cursorID = 0
		return err
	}
	r.printResult(qr)
	return nil
}

func (r *Repl) printResult(qr *engine.QueryResult) {
	r.printEntities(qr.Entities, qr.KeysOnly)
	if qr.SkippedResults > 0 {
		fmt.Fprintf(r.w, "skipped %d\n", qr.SkippedResults)
	}
	if qr.CompiledCursor != nil {
		fmt.Fprintf(r.w, "cursor %s\n", qr.CompiledCursor)
	}
	r.cursorID = qr.CursorID
	if qr.MoreResults {
		fmt.Fprintln(r.w, "more results: next")
	}
}

func formatProperties(props []entity.Property, prefix string) []string {
	var strs []string
	for _, p := range props {
		if p.Value == nil {
			strs = append(strs, fmt.Sprintf("%s%s=null", prefix, p.Name))
		} else {
			strs = append(strs, fmt.Sprintf("%s%s=%s", prefix, p.Name, p.Value))
		}
	}
	return strs
}

func (r *Repl) printEntities(ents []*entity.Entity, keysOnly bool) {
	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	if keysOnly {
		tw.SetHeader([]string{"key"})
	} else {
		tw.SetHeader([]string{"key", "properties"})
	}

	for _, ent := range ents {
		if ent == nil {
			continue
		}
		if keysOnly {
			tw.Append([]string{ent.Key.String()})
			continue
		}
		props := append(formatProperties(ent.Properties, ""),
			formatProperties(ent.RawProperties, "~")...)
		tw.Append([]string{ent.Key.String(), strings.Join(props, " ")})
	}
	tw.Render()
	fmt.Fprintf(r.w, "(%d entities)\n", tw.NumLines())
}

func (r *Repl) index(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(errors.ErrBadRequest,
			"usage: index create|update|delete|list ...")
	}

	switch args[0] {
	case "create":
		// index create kind [ancestor] prop[:desc]...
		if len(args) < 2 {
			return errors.New(errors.ErrBadRequest,
				"usage: index create kind [ancestor] prop[:asc|:desc]...")
		}
		def := index.Definition{Kind: args[1]}
		props := args[2:]
		if len(props) > 0 && props[0] == "ancestor" {
			def.Ancestor = true
			props = props[1:]
		}
		for _, prop := range props {
			name, dir, ok := strings.Cut(prop, ":")
			p := index.Property{Name: name, Direction: query.Ascending}
			if ok {
				p.Direction, ok = parseDirection(dir)
				if !ok {
					return errors.Newf(errors.ErrBadRequest, "index: bad direction: %s", dir)
				}
			}
			def.Properties = append(def.Properties, p)
		}
		id, err := r.e.CreateIndex(ctx, r.caller,
			index.Index{App: r.caller.App, Definition: def})
		if err != nil {
			return err
		}
		fmt.Fprintf(r.w, "index %d\n", id)
	case "update":
		// index update id state
		if len(args) != 3 {
			return errors.New(errors.ErrBadRequest, "usage: index update id state")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return errors.Newf(errors.ErrBadRequest, "index: bad id: %s", args[1])
		}
		st, ok := index.ParseState(args[2])
		if !ok {
			return errors.Newf(errors.ErrBadRequest, "index: bad state: %s", args[2])
		}
		return r.e.UpdateIndex(ctx, r.caller, index.Index{ID: id, App: r.caller.App, State: st})
	case "delete":
		if len(args) != 2 {
			return errors.New(errors.ErrBadRequest, "usage: index delete id")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return errors.Newf(errors.ErrBadRequest, "index: bad id: %s", args[1])
		}
		return r.e.DeleteIndex(ctx, r.caller, index.Index{ID: id, App: r.caller.App})
	case "list":
		indexes, err := r.e.Indexes(ctx, r.caller, r.caller.App)
		if err != nil {
			return err
		}
		tw := tablewriter.NewWriter(r.w)
		tw.SetAutoFormatHeaders(false)
		tw.SetHeader([]string{"id", "state", "definition"})
		for _, idx := range indexes {
			tw.Append([]string{strconv.FormatInt(idx.ID, 10), idx.State.String(),
				idx.Definition.String()})
		}
		tw.Render()
		fmt.Fprintf(r.w, "(%d indexes)\n", tw.NumLines())
	default:
		return errors.Newf(errors.ErrBadRequest, "index: unknown command: %s", args[0])
	}
	return nil
}

func (r *Repl) history(ctx context.Context, args []string) error {
	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetHeader([]string{"query", "count", "index"})
	for _, he := range r.e.QueryHistory() {
		var def string
		if he.Index != nil {
			def = he.Index.String()
		}
		tw.Append([]string{he.Signature, strconv.Itoa(he.Count), def})
	}
	tw.Render()
	return nil
}

func (r *Repl) setNamespace(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errors.New(errors.ErrBadRequest, "usage: namespace [name]")
	} else if len(args) == 1 {
		r.namespace = args[0]
	}
	fmt.Fprintf(r.w, "namespace %q\n", r.namespace)
	return nil
}

func (r *Repl) groom(ctx context.Context, args []string) error {
	err := r.e.Groom()
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "%d pending\n", r.e.Pending())
	return nil
}

func (r *Repl) flush(ctx context.Context, args []string) error {
	return r.e.Flush()
}

func formatLabels(m *dto.Metric) string {
	var labels []string
	for _, lp := range m.GetLabel() {
		labels = append(labels, fmt.Sprintf("%s=%s", lp.GetName(), lp.GetValue()))
	}
	return strings.Join(labels, ",")
}

func formatMetric(typ dto.MetricType, m *dto.Metric) string {
	switch typ {
	case dto.MetricType_COUNTER:
		return strconv.FormatFloat(m.GetCounter().GetValue(), 'g', -1, 64)
	case dto.MetricType_GAUGE:
		return strconv.FormatFloat(m.GetGauge().GetValue(), 'g', -1, 64)
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
	case dto.MetricType_SUMMARY:
		s := m.GetSummary()
		return fmt.Sprintf("count=%d sum=%g", s.GetSampleCount(), s.GetSampleSum())
	}
	return strconv.FormatFloat(m.GetUntyped().GetValue(), 'g', -1, 64)
}

func (r *Repl) stats(ctx context.Context, args []string) error {
	mfs, err := r.e.Gatherer().Gather()
	if err != nil {
		return errors.Wrap(err, "stats")
	}
	sort.Slice(mfs,
		func(i, j int) bool {
			return mfs[i].GetName() < mfs[j].GetName()
		})

	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"metric", "labels", "value"})
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			tw.Append([]string{mf.GetName(), formatLabels(m), formatMetric(mf.GetType(), m)})
		}
	}
	tw.Render()
	fmt.Fprintf(r.w, "%d pending\n", r.e.Pending())
	return nil
}

func (r *Repl) showConfig(ctx context.Context, args []string) error {
	if r.config == nil {
		return errors.New(errors.ErrBadRequest, "no configuration")
	}
	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"name", "by", "value"})
	tw.AppendBulk(r.config())
	tw.Render()
	return nil
}

func (r *Repl) help(ctx context.Context, args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(r.w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(r.w, "  quit")
	return nil
}
