package engine

import (
	"sort"

	"github.com/leftmike/egdb/entity"
	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/query"
)

const (
	entityGroupKind = "__entity_group__"
	kindKind        = "__kind__"
	namespaceKind   = "__namespace__"

	// emptyNamespaceID names the empty namespace in __namespace__ results.
	emptyNamespaceID = 1
)

// pseudoKind serves gets and queries of metadata about the stored entities.
// A nil entity from get means the entity does not exist.
type pseudoKind interface {
	get(e *Engine, t *txn, key entity.Key) (*entity.Entity, error)
	query(e *Engine, q *query.Query) ([]*entity.Entity, error)
}

func (e *Engine) lookupPseudoKind(kind string) (pseudoKind, bool) {
	pk, ok := e.pseudoKinds[kind]
	return pk, ok
}

// GetPseudo gets key of a pseudo kind within the transaction, if any.
func (e *Engine) GetPseudo(caller Caller, h *Handle, key entity.Key) (*entity.Entity, error) {
	err := entity.CheckKey(caller.Trusted, caller.App, key, true)
	if err != nil {
		return nil, err
	}
	pk, ok := e.lookupPseudoKind(key.Kind())
	if !ok {
		return nil, errors.Newf(errors.ErrBadRequest, "%s is not a pseudo kind", key.Kind())
	}

	var t *txn
	if h != nil {
		t, err = e.lookup(caller, *h)
		if err != nil {
			return nil, err
		}
	}
	return pk.get(e, t, key)
}

// QueryPseudo returns every entity of a pseudo kind which the query could
// match.
func (e *Engine) QueryPseudo(caller Caller, q *query.Query) ([]*entity.Entity, error) {
	err := entity.CheckApp(caller.Trusted, caller.App, q.App)
	if err != nil {
		return nil, err
	}
	pk, ok := e.lookupPseudoKind(q.Kind)
	if !ok {
		return nil, errors.Newf(errors.ErrBadRequest, "%s is not a pseudo kind", q.Kind)
	}
	return pk.query(e, q)
}

// entityGroupPseudoKind reports the version of an entity group: key is the
// root of the group with a final (__entity_group__, 1) element.
type entityGroupPseudoKind struct{}

func (entityGroupPseudoKind) get(e *Engine, t *txn, key entity.Key) (*entity.Entity, error) {
	if e.policy.isStrong() {
		return nil, nil
	}
	if len(key.Path) != 2 || key.Last().ID != 1 {
		return nil, nil
	}

	if t == nil {
		t = e.newTxn(key.App, false)
		defer t.rollback(e)
	}
	pos, err := t.readPosition(e, key)
	if err != nil {
		return nil, err
	}

	return &entity.Entity{
		Key: key.Clone(),
		Properties: []entity.Property{
			{
				Name:  entity.VersionProperty,
				Value: entity.Int64Value(pos + e.baseVersion),
			},
		},
	}, nil
}

func (entityGroupPseudoKind) query(e *Engine, q *query.Query) ([]*entity.Entity, error) {
	return nil, errors.New(errors.ErrBadRequest, "queries not supported on __entity_group__")
}

func pseudoEntity(q *query.Query, kind string, pe entity.PathElement) *entity.Entity {
	return &entity.Entity{
		Key: entity.NewKey(q.App, q.Namespace, entity.PathElement{
			Kind: kind,
			ID:   pe.ID,
			Name: pe.Name,
		}),
	}
}

// kindPseudoKind lists the kinds with entities in the namespace of the query.
type kindPseudoKind struct{}

func (kindPseudoKind) get(e *Engine, t *txn, key entity.Key) (*entity.Entity, error) {
	return nil, nil
}

func (kindPseudoKind) query(e *Engine, q *query.Query) ([]*entity.Entity, error) {
	kinds := map[string]struct{}{}
	err := e.st.Scan(q.App, q.Namespace,
		func(ent *entity.Entity) error {
			kinds[ent.Key.Kind()] = struct{}{}
			return nil
		})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(kinds))
	for kind := range kinds {
		names = append(names, kind)
	}
	sort.Strings(names)

	entities := make([]*entity.Entity, 0, len(names))
	for _, name := range names {
		entities = append(entities, pseudoEntity(q, kindKind, entity.PathElement{Name: name}))
	}
	return entities, nil
}

// namespacePseudoKind lists the namespaces of the application with entities.
type namespacePseudoKind struct{}

func (namespacePseudoKind) get(e *Engine, t *txn, key entity.Key) (*entity.Entity, error) {
	return nil, nil
}

func (namespacePseudoKind) query(e *Engine, q *query.Query) ([]*entity.Entity, error) {
	namespaces := map[string]struct{}{}
	err := e.st.ScanApp(q.App,
		func(ent *entity.Entity) error {
			namespaces[ent.Key.Namespace] = struct{}{}
			return nil
		})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(namespaces))
	for ns := range namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)

	entities := make([]*entity.Entity, 0, len(names))
	for _, ns := range names {
		pe := entity.PathElement{Name: ns}
		if ns == "" {
			pe = entity.PathElement{ID: emptyNamespaceID}
		}
		entities = append(entities, pseudoEntity(q, namespaceKind, pe))
	}
	return entities, nil
}
