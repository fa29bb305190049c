package models

import (
	"errors"
	"strings"
)

type EntityType string

const (
	EntityTypeParty     EntityType = "party"
	EntityTypeUser      EntityType = "user"
	EntityTypeOrder     EntityType = "order"
	EntityTypeTask      EntityType = "task"
	EntityTypeTimeEntry EntityType = "timeEntry"
)

var ErrUnknownEntityType = errors.New("unknown entity type")

// entity types in dependency order: later types reference earlier ones by id
var orderedEntityTypes = []EntityType{
	EntityTypeParty,
	EntityTypeUser,
	EntityTypeOrder,
	EntityTypeTask,
	EntityTypeTimeEntry,
}

func AllEntityTypes() []EntityType {
	out := make([]EntityType, len(orderedEntityTypes))
	copy(out, orderedEntityTypes)
	return out
}

func (t EntityType) String() string {
	return string(t)
}

// Rank is the position of t in the dependency order, -1 for unknown types.
func (t EntityType) Rank() int {
	for i, et := range orderedEntityTypes {
		if et == t {
			return i
		}
	}
	return -1
}

// ParseEntityType accepts the entity type, its table name, or its upstream collection name.
func ParseEntityType(s string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "party", "parties":
		return EntityTypeParty, nil
	case "user", "users":
		return EntityTypeUser, nil
	case "order", "orders", "salesorder":
		return EntityTypeOrder, nil
	case "task", "tasks":
		return EntityTypeTask, nil
	case "timeentry", "timeentries", "time_entries", "timerecord":
		return EntityTypeTimeEntry, nil
	default:
		return "", ErrUnknownEntityType
	}
}

// SortEntityTypes dedupes types and returns them in dependency order.
func SortEntityTypes(types []EntityType) []EntityType {
	selected := make(map[EntityType]bool, len(types))
	for _, t := range types {
		selected[t] = true
	}
	out := make([]EntityType, 0, len(selected))
	for _, et := range orderedEntityTypes {
		if selected[et] {
			out = append(out, et)
		}
	}
	return out
}
