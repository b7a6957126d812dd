package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// PathElement is one (kind, id or name) step of a key's path. An element with
// neither an id nor a name is incomplete.
type PathElement struct {
	Kind string
	ID   int64
	Name string
}

func IDElement(kind string, id int64) PathElement {
	return PathElement{Kind: kind, ID: id}
}

func NameElement(kind, name string) PathElement {
	return PathElement{Kind: kind, Name: name}
}

func (pe PathElement) HasID() bool {
	return pe.ID != 0
}

func (pe PathElement) HasName() bool {
	return pe.Name != ""
}

func (pe PathElement) Complete() bool {
	return pe.HasID() || pe.HasName()
}

func (pe PathElement) String() string {
	if pe.HasName() {
		return fmt.Sprintf("%s:%s", pe.Kind, strconv.Quote(pe.Name))
	} else if pe.HasID() {
		return fmt.Sprintf("%s:%d", pe.Kind, pe.ID)
	}
	return fmt.Sprintf("%s:?", pe.Kind)
}

// ComparePathElements orders by kind, then ids before names; ids compare
// numerically and names lexically.
func ComparePathElements(pe1, pe2 PathElement) int {
	if c := strings.Compare(pe1.Kind, pe2.Kind); c != 0 {
		return c
	}
	if pe1.HasName() {
		if !pe2.HasName() {
			return 1
		}
		return strings.Compare(pe1.Name, pe2.Name)
	} else if pe2.HasName() {
		return -1
	}
	if pe1.ID < pe2.ID {
		return -1
	} else if pe1.ID > pe2.ID {
		return 1
	}
	return 0
}

// Key identifies an entity: an owning application, an optional namespace,
// and a non-empty path.
type Key struct {
	App       string
	Namespace string
	Path      []PathElement
}

func NewKey(app, namespace string, path ...PathElement) Key {
	return Key{
		App:       app,
		Namespace: namespace,
		Path:      path,
	}
}

func (k Key) Last() PathElement {
	if len(k.Path) == 0 {
		return PathElement{}
	}
	return k.Path[len(k.Path)-1]
}

func (k Key) Kind() string {
	return k.Last().Kind
}

func (k Key) Complete() bool {
	return len(k.Path) > 0 && k.Last().Complete()
}

// EntityGroup returns the key truncated to its root element.
func (k Key) EntityGroup() Key {
	if len(k.Path) == 0 {
		return Key{App: k.App, Namespace: k.Namespace}
	}
	return Key{
		App:       k.App,
		Namespace: k.Namespace,
		Path:      []PathElement{k.Path[0]},
	}
}

// Child returns a new key with pe appended to k's path.
func (k Key) Child(pe PathElement) Key {
	path := make([]PathElement, len(k.Path), len(k.Path)+1)
	copy(path, k.Path)
	return Key{
		App:       k.App,
		Namespace: k.Namespace,
		Path:      append(path, pe),
	}
}

// HasAncestor returns true if ancestor is k or one of k's ancestors.
func (k Key) HasAncestor(ancestor Key) bool {
	if k.App != ancestor.App || k.Namespace != ancestor.Namespace ||
		len(ancestor.Path) > len(k.Path) {

		return false
	}
	for idx, pe := range ancestor.Path {
		if pe != k.Path[idx] {
			return false
		}
	}
	return true
}

func (k Key) Equal(k2 Key) bool {
	if k.App != k2.App || k.Namespace != k2.Namespace || len(k.Path) != len(k2.Path) {
		return false
	}
	for idx := range k.Path {
		if k.Path[idx] != k2.Path[idx] {
			return false
		}
	}
	return true
}

func (k Key) Clone() Key {
	return Key{
		App:       k.App,
		Namespace: k.Namespace,
		Path:      append(make([]PathElement, 0, len(k.Path)), k.Path...),
	}
}

func (k Key) Reference() ReferenceValue {
	return ReferenceValue(k.Clone())
}

func (k Key) String() string {
	var buf strings.Builder
	buf.WriteString(k.App)
	if k.Namespace != "" {
		buf.WriteByte('/')
		buf.WriteString(k.Namespace)
	}
	buf.WriteByte('[')
	for idx, pe := range k.Path {
		if idx > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(pe.String())
	}
	buf.WriteByte(']')
	return buf.String()
}

// CompareKeys orders keys by application, namespace, and then path, element
// by element; a proper prefix sorts first.
func CompareKeys(k1, k2 Key) int {
	if c := strings.Compare(k1.App, k2.App); c != 0 {
		return c
	}
	if c := strings.Compare(k1.Namespace, k2.Namespace); c != 0 {
		return c
	}
	for idx := 0; idx < len(k1.Path) && idx < len(k2.Path); idx += 1 {
		if c := ComparePathElements(k1.Path[idx], k2.Path[idx]); c != 0 {
			return c
		}
	}
	if len(k1.Path) < len(k2.Path) {
		return -1
	} else if len(k1.Path) > len(k2.Path) {
		return 1
	}
	return 0
}
