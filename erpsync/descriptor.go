package erpsync

import (
	"encoding/json"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
)

// ForeignKey is one reference-shaped field of an upstream record.
type ForeignKey struct {
	Field  string // upstream json name
	Column string // mirror column
	Target models.EntityType
}

// Descriptor is everything entity-specific the reconciler needs.
type Descriptor struct {
	EntityType  models.EntityType
	Collection  string
	ForeignKeys []ForeignKey
	decode      func(raw json.RawMessage) (models.MirrorRecord, error)
}

// ReferencedTypes is the deduped set of FK targets, in dependency order.
func (d Descriptor) ReferencedTypes() []models.EntityType {
	targets := make([]models.EntityType, 0, len(d.ForeignKeys))
	for _, fk := range d.ForeignKeys {
		targets = append(targets, fk.Target)
	}
	return models.SortEntityTypes(targets)
}

var descriptors = map[models.EntityType]Descriptor{
	models.EntityTypeParty: {
		EntityType: models.EntityTypeParty,
		Collection: "party",
		decode:     decodeParty,
	},
	models.EntityTypeUser: {
		EntityType: models.EntityTypeUser,
		Collection: "user",
		decode:     decodeUser,
	},
	models.EntityTypeOrder: {
		EntityType: models.EntityTypeOrder,
		Collection: "salesOrder",
		ForeignKeys: []ForeignKey{
			{Field: "customerId", Column: "customer_id", Target: models.EntityTypeParty},
		},
		decode: decodeOrder,
	},
	// orderItemId and ticketId point at upstream objects that are not mirrored; they are stored as-is.
	models.EntityTypeTask: {
		EntityType: models.EntityTypeTask,
		Collection: "task",
		ForeignKeys: []ForeignKey{
			{Field: "creatorUserId", Column: "creator_user_id", Target: models.EntityTypeUser},
			{Field: "customerId", Column: "customer_id", Target: models.EntityTypeParty},
			{Field: "parentTaskId", Column: "parent_task_id", Target: models.EntityTypeTask},
			{Field: "previousTaskId", Column: "previous_task_id", Target: models.EntityTypeTask},
		},
		decode: decodeTask,
	},
	models.EntityTypeTimeEntry: {
		EntityType: models.EntityTypeTimeEntry,
		Collection: "timeRecord",
		ForeignKeys: []ForeignKey{
			{Field: "taskId", Column: "task_id", Target: models.EntityTypeTask},
			{Field: "userId", Column: "user_id", Target: models.EntityTypeUser},
			{Field: "customerId", Column: "customer_id", Target: models.EntityTypeParty},
			{Field: "salesOrderId", Column: "sales_order_id", Target: models.EntityTypeOrder},
		},
		decode: decodeTimeEntry,
	},
}

func DescriptorFor(entityType models.EntityType) (Descriptor, bool) {
	d, ok := descriptors[entityType]
	return d, ok
}
