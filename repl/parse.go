package repl

import (
	"strconv"
	"strings"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/query"
)

// tokenize splits a line into words; double quoted strings are kept as one
// word, quotes included, so that values can tell them apart from numbers.
func tokenize(line string) ([]string, error) {
	var words []string
	var buf strings.Builder
	inWord := false
	for idx := 0; idx < len(line); idx += 1 {
		ch := line[idx]
		switch {
		case ch == '"':
			end := idx + 1
			for end < len(line) && line[end] != '"' {
				if line[end] == '\\' {
					end += 1
				}
				end += 1
			}
			if end >= len(line) {
				return nil, errors.New(errors.ErrBadRequest, "unterminated string")
			}
			buf.WriteString(line[idx : end+1])
			idx = end
			inWord = true
		case ch == ' ' || ch == '\t':
			if inWord {
				words = append(words, buf.String())
				buf.Reset()
				inWord = false
			}
		default:
			buf.WriteByte(ch)
			inWord = true
		}
	}
	if inWord {
		words = append(words, buf.String())
	}
	return words, nil
}

// parseKey parses Kind:id or Kind:name elements separated by slashes; a
// final element without an id or name is incomplete. Names that look like
// numbers must be quoted.
func parseKey(app, namespace, s string) (entity.Key, error) {
	key := entity.Key{App: app, Namespace: namespace}
	for idx, elem := range strings.Split(s, "/") {
		kind, val, found := strings.Cut(elem, ":")
		if kind == "" {
			return entity.Key{}, errors.Newf(errors.ErrBadRequest, "key %s: missing kind", s)
		}
		pe := entity.PathElement{Kind: kind}
		if found && val != "" {
			if id, err := strconv.ParseInt(val, 10, 64); err == nil {
				if id <= 0 {
					return entity.Key{}, errors.Newf(errors.ErrBadRequest,
						"key %s: id must be positive", s)
				}
				pe.ID = id
			} else if val[0] == '"' {
				name, err := strconv.Unquote(val)
				if err != nil {
					return entity.Key{}, errors.Newf(errors.ErrBadRequest, "key %s: %s", s,
						err)
				}
				pe.Name = name
			} else {
				pe.Name = val
			}
		} else if idx < len(strings.Split(s, "/"))-1 {
			return entity.Key{}, errors.Newf(errors.ErrBadRequest,
				"key %s: only the last element may be incomplete", s)
		}
		key.Path = append(key.Path, pe)
	}
	return key, nil
}

func parseKeys(app, namespace string, args []string) ([]entity.Key, error) {
	keys := make([]entity.Key, 0, len(args))
	for _, arg := range args {
		key, err := parseKey(app, namespace, arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// parseValue parses a property value: null, true, false, an integer, a
// float, a quoted string, a point written as x,y in parentheses, or a
// reference written as @key.
func parseValue(app, namespace, s string) (entity.Value, error) {
	switch {
	case s == "null":
		return nil, nil
	case s == "true":
		return entity.BoolValue(true), nil
	case s == "false":
		return entity.BoolValue(false), nil
	case strings.HasPrefix(s, "\""):
		str, err := strconv.Unquote(s)
		if err != nil {
			return nil, errors.Newf(errors.ErrBadRequest, "value %s: %s", s, err)
		}
		return entity.StringValue(str), nil
	case strings.HasPrefix(s, "@"):
		key, err := parseKey(app, namespace, s[1:])
		if err != nil {
			return nil, err
		}
		return key.Reference(), nil
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		xs, ys, ok := strings.Cut(s[1:len(s)-1], ",")
		if ok {
			x, err1 := strconv.ParseFloat(strings.TrimSpace(xs), 64)
			y, err2 := strconv.ParseFloat(strings.TrimSpace(ys), 64)
			if err1 == nil && err2 == nil {
				return entity.PointValue{X: x, Y: y}, nil
			}
		}
	default:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return entity.Int64Value(i), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return entity.DoubleValue(f), nil
		}
	}
	return nil, errors.Newf(errors.ErrBadRequest, "value %s: not a valid value", s)
}

// parseProperties parses name=value words into indexed properties; a name
// prefixed with ~ is not indexed. A name given more than once becomes a
// multiple valued property.
func parseProperties(app, namespace string, args []string) ([]entity.Property,
	[]entity.Property, error) {

	var props, raw []entity.Property
	counts := map[string]int{}
	for _, arg := range args {
		name, val, ok := strings.Cut(arg, "=")
		if !ok || name == "" || name == "~" {
			return nil, nil, errors.Newf(errors.ErrBadRequest,
				"property %s: expected name=value", arg)
		}
		v, err := parseValue(app, namespace, val)
		if err != nil {
			return nil, nil, err
		}
		counts[name] += 1
		if strings.HasPrefix(name, "~") {
			raw = append(raw, entity.Property{Name: name[1:], Value: v})
		} else {
			props = append(props, entity.Property{Name: name, Value: v})
		}
	}
	for idx := range props {
		props[idx].Multiple = counts[props[idx].Name] > 1
	}
	for idx := range raw {
		raw[idx].Multiple = counts["~"+raw[idx].Name] > 1
	}
	return props, raw, nil
}

var operators = map[string]query.Operator{
	"<":      query.LessThan,
	"<=":     query.LessThanOrEqual,
	">":      query.GreaterThan,
	">=":     query.GreaterThanOrEqual,
	"=":      query.Equal,
	"exists": query.Exists,
}

func parseDirection(s string) (query.Direction, bool) {
	switch strings.ToLower(s) {
	case "asc":
		return query.Ascending, true
	case "desc":
		return query.Descending, true
	}
	return 0, false
}

// parseQuery parses
//
//	kind|* [ancestor key] [where prop op value]... [order prop [asc|desc]]...
//	    [limit n] [offset n] [project prop]... [keys] [compile]
func parseQuery(app, namespace string, args []string) (*query.Query, error) {
	if len(args) == 0 {
		return nil, errors.New(errors.ErrBadRequest, "query: missing kind")
	}
	q := &query.Query{App: app, Namespace: namespace}
	if args[0] != "*" {
		q.Kind = args[0]
	}

	need := func(idx, n int, what string) error {
		if idx+n >= len(args) {
			return errors.Newf(errors.ErrBadRequest, "query: %s: missing arguments", what)
		}
		return nil
	}
	number := func(s, what string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, errors.Newf(errors.ErrBadRequest, "query: %s: expected a number: %s",
				what, s)
		}
		return n, nil
	}

	for idx := 1; idx < len(args); idx += 1 {
		switch word := strings.ToLower(args[idx]); word {
		case "ancestor":
			if err := need(idx, 1, word); err != nil {
				return nil, err
			}
			key, err := parseKey(app, namespace, args[idx+1])
			if err != nil {
				return nil, err
			}
			q.Ancestor = &key
			idx += 1
		case "where":
			if err := need(idx, 2, word); err != nil {
				return nil, err
			}
			op, ok := operators[strings.ToLower(args[idx+2])]
			if !ok {
				return nil, errors.Newf(errors.ErrBadRequest, "query: unknown operator: %s",
					args[idx+2])
			}
			f := query.Filter{Property: args[idx+1], Op: op}
			idx += 2
			if op != query.Exists {
				if err := need(idx, 1, word); err != nil {
					return nil, err
				}
				v, err := parseValue(app, namespace, args[idx+1])
				if err != nil {
					return nil, err
				}
				f.Value = v
				idx += 1
			}
			q.Filters = append(q.Filters, f)
		case "order":
			if err := need(idx, 1, word); err != nil {
				return nil, err
			}
			o := query.Order{Property: args[idx+1], Direction: query.Ascending}
			idx += 1
			if idx+1 < len(args) {
				if dir, ok := parseDirection(args[idx+1]); ok {
					o.Direction = dir
					idx += 1
				}
			}
			q.Orders = append(q.Orders, o)
		case "limit", "offset", "count":
			if err := need(idx, 1, word); err != nil {
				return nil, err
			}
			n, err := number(args[idx+1], word)
			if err != nil {
				return nil, err
			}
			switch word {
			case "limit":
				q.HasLimit = true
				q.Limit = n
			case "offset":
				q.Offset = n
			case "count":
				q.HasCount = true
				q.Count = n
			}
			idx += 1
		case "project":
			if err := need(idx, 1, word); err != nil {
				return nil, err
			}
			q.Projection = append(q.Projection, args[idx+1])
			idx += 1
		case "keys":
			q.KeysOnly = true
		case "compile":
			q.Compile = true
		default:
			return nil, errors.Newf(errors.ErrBadRequest, "query: unexpected %s", args[idx])
		}
	}
	return q, nil
}
