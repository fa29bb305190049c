package erpsync

import (
	"context"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
)

// IdLookup is the bulk existence lookup of the mirror store.
type IdLookup interface {
	KnownIds(ctx context.Context, entityType models.EntityType) (map[string]struct{}, error)
}

// MirrorIndex holds the known ids per entity type for one run.
// Each type is loaded from the store at most once; ids written during the run are added as they land.
type MirrorIndex struct {
	known  map[models.EntityType]map[string]struct{}
	loaded map[models.EntityType]bool
}

func NewMirrorIndex() *MirrorIndex {
	return &MirrorIndex{
		known:  make(map[models.EntityType]map[string]struct{}),
		loaded: make(map[models.EntityType]bool),
	}
}

// Load fetches the id sets of the given types that are not loaded yet.
func (m *MirrorIndex) Load(ctx context.Context, lookup IdLookup, types ...models.EntityType) error {
	for _, et := range types {
		if m.loaded[et] {
			continue
		}
		ids, err := lookup.KnownIds(ctx, et)
		if err != nil {
			return fmt.Errorf("load %s ids: %w", et, err)
		}
		set := m.set(et)
		for id := range ids {
			set[id] = struct{}{}
		}
		m.loaded[et] = true
	}
	return nil
}

func (m *MirrorIndex) Loaded(entityType models.EntityType) bool {
	return m.loaded[entityType]
}

func (m *MirrorIndex) Has(entityType models.EntityType, id string) bool {
	_, ok := m.known[entityType][id]
	return ok
}

func (m *MirrorIndex) Add(entityType models.EntityType, id string) {
	m.set(entityType)[id] = struct{}{}
}

func (m *MirrorIndex) Len(entityType models.EntityType) int {
	return len(m.known[entityType])
}

func (m *MirrorIndex) set(entityType models.EntityType) map[string]struct{} {
	s, ok := m.known[entityType]
	if !ok {
		s = make(map[string]struct{})
		m.known[entityType] = s
	}
	return s
}

// ValidationResult carries the fields to write and the upstream names of references that were nulled.
type ValidationResult struct {
	Fields        map[string]interface{}
	InvalidFields []string
}

func (v ValidationResult) Valid() bool {
	return len(v.InvalidFields) == 0
}

// Validate checks every foreign key of rec against idx. A reference is valid when it is
// absent, blank, or a known id of its target type. Invalid references are set to NULL in
// the returned fields; rec itself is not modified.
func Validate(rec NormalizedRecord, idx *MirrorIndex) (ValidationResult, error) {
	desc, ok := DescriptorFor(rec.EntityType)
	if !ok {
		return ValidationResult{}, fmt.Errorf("%w: %q", models.ErrUnknownEntityType, rec.EntityType)
	}

	fields := make(map[string]interface{}, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}

	var invalid []string
	for _, fk := range desc.ForeignKeys {
		ref, present := referenceValue(fields[fk.Column])
		if !present {
			fields[fk.Column] = nil
			continue
		}
		if idx.Has(fk.Target, ref) {
			continue
		}
		fields[fk.Column] = nil
		invalid = append(invalid, fk.Field)
	}
	return ValidationResult{Fields: fields, InvalidFields: invalid}, nil
}

func referenceValue(v interface{}) (string, bool) {
	var s string
	switch ref := v.(type) {
	case nil:
		return "", false
	case *string:
		if ref == nil {
			return "", false
		}
		s = *ref
	case string:
		s = ref
	default:
		s = fmt.Sprint(ref)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
