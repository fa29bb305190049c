package erpsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"bitbucket.org/mmdatafocus/erp_mirror/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// NormalizedRecord is a decoded upstream record keyed by mirror column.
type NormalizedRecord struct {
	EntityType models.EntityType
	ID         string
	Fields     map[string]interface{}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// EpochMillis is an upstream epoch-millisecond timestamp. Absent, null, zero and false decode to no date.
type EpochMillis struct {
	Time *time.Time
}

func (e *EpochMillis) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch s {
	case "", "null", "false", "0":
		e.Time = nil
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid epoch millis %q", s)
		}
		ms = int64(f)
	}
	if ms == 0 {
		e.Time = nil
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	e.Time = &t
	return nil
}

type upstreamParty struct {
	ID               string      `json:"id" validate:"required,max=64"`
	PartyType        string      `json:"partyType"`
	Company          *string     `json:"company"`
	FirstName        *string     `json:"firstName"`
	LastName         *string     `json:"lastName"`
	Email            *string     `json:"email"`
	Customer         *bool       `json:"customer"`
	Supplier         *bool       `json:"supplier"`
	CustomerNumber   *string     `json:"customerNumber"`
	SupplierNumber   *string     `json:"supplierNumber"`
	CreatedDate      EpochMillis `json:"createdDate"`
	LastModifiedDate EpochMillis `json:"lastModifiedDate"`
}

type upstreamUser struct {
	ID               string      `json:"id" validate:"required,max=64"`
	Username         *string     `json:"username"`
	FirstName        *string     `json:"firstName"`
	LastName         *string     `json:"lastName"`
	Email            *string     `json:"email"`
	Status           string      `json:"status"`
	CreatedDate      EpochMillis `json:"createdDate"`
	LastModifiedDate EpochMillis `json:"lastModifiedDate"`
}

type upstreamOrder struct {
	ID                 string           `json:"id" validate:"required,max=64"`
	OrderNumber        *string          `json:"orderNumber"`
	Status             string           `json:"status"`
	CustomerId         *string          `json:"customerId"`
	OrderDate          EpochMillis      `json:"orderDate"`
	NetAmount          *decimal.Decimal `json:"netAmount"`
	GrossAmount        *decimal.Decimal `json:"grossAmount"`
	RecordCurrencyName *string          `json:"recordCurrencyName"`
	Invoiced           *bool            `json:"invoiced"`
	Paid               *bool            `json:"paid"`
	Shipped            *bool            `json:"shipped"`
	ServicesFinished   *bool            `json:"servicesFinished"`
	CreatedDate        EpochMillis      `json:"createdDate"`
	LastModifiedDate   EpochMillis      `json:"lastModifiedDate"`
}

type upstreamTask struct {
	ID                 string          `json:"id" validate:"required,max=64"`
	Subject            string          `json:"subject"`
	Description        *string         `json:"description"`
	Identifier         *string         `json:"identifier"`
	TaskStatus         string          `json:"taskStatus"`
	TaskPriority       string          `json:"taskPriority"`
	TaskVisibilityType string          `json:"taskVisibilityType"`
	PlannedEffort      *int64          `json:"plannedEffort"`
	DateFrom           EpochMillis     `json:"dateFrom"`
	DateTo             EpochMillis     `json:"dateTo"`
	AllowTimeBooking   *bool           `json:"allowTimeBooking"`
	AllowOverBooking   *bool           `json:"allowOverBooking"`
	CreatorUserId      *string         `json:"creatorUserId"`
	CustomerId         *string         `json:"customerId"`
	ParentTaskId       *string         `json:"parentTaskId"`
	PreviousTaskId     *string         `json:"previousTaskId"`
	OrderItemId        *string         `json:"orderItemId"`
	TicketId           *string         `json:"ticketId"`
	Assignees          json.RawMessage `json:"assignees"`
	Watchers           json.RawMessage `json:"watchers"`
	EntityReferences   json.RawMessage `json:"entityReferences"`
	CustomAttributes   json.RawMessage `json:"customAttributes"`
	CreatedDate        EpochMillis     `json:"createdDate"`
	LastModifiedDate   EpochMillis     `json:"lastModifiedDate"`
}

type upstreamTimeRecord struct {
	ID                      string           `json:"id" validate:"required,max=64"`
	Description             *string          `json:"description"`
	StartDate               EpochMillis      `json:"startDate"`
	DurationSeconds         *int64           `json:"durationSeconds"`
	BillableDurationSeconds *int64           `json:"billableDurationSeconds"`
	Billable                *bool            `json:"billable"`
	HourlyRate              *decimal.Decimal `json:"hourlyRate"`
	TaskId                  *string          `json:"taskId"`
	UserId                  *string          `json:"userId"`
	CustomerId              *string          `json:"customerId"`
	SalesOrderId            *string          `json:"salesOrderId"`
	CreatedDate             EpochMillis      `json:"createdDate"`
	LastModifiedDate        EpochMillis      `json:"lastModifiedDate"`
}

// Normalize maps one raw upstream record onto the mirror shape of entityType.
// Missing optional fields never fail; a missing id is ErrMalformedRecord.
func Normalize(raw json.RawMessage, entityType models.EntityType) (NormalizedRecord, error) {
	desc, ok := DescriptorFor(entityType)
	if !ok {
		return NormalizedRecord{}, fmt.Errorf("%w: %q", models.ErrUnknownEntityType, entityType)
	}
	rec, err := desc.decode(raw)
	if err != nil {
		return NormalizedRecord{}, err
	}
	return NormalizedRecord{
		EntityType: entityType,
		ID:         rec.GetId(),
		Fields:     rec.Fillable(),
	}, nil
}

func decodeUpstream(raw json.RawMessage, dest interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: empty record", ErrMalformedRecord)
	}
	if err := json.Unmarshal(trimmed, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := validate.Struct(dest); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedRecord, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	fieldErrs := utils.ProcessValidationErrors(err)
	if len(fieldErrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for field, tag := range fieldErrs {
		parts = append(parts, field+" "+tag)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// opaqueJSON keeps a nested upstream blob as-is; absent and null are stored as NULL.
func opaqueJSON(raw json.RawMessage) datatypes.JSON {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return datatypes.JSON(append([]byte(nil), trimmed...))
}

func decimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func decodeParty(raw json.RawMessage) (models.MirrorRecord, error) {
	var in upstreamParty
	if err := decodeUpstream(raw, &in); err != nil {
		return nil, err
	}
	return models.Party{
		ID:               in.ID,
		PartyType:        in.PartyType,
		Company:          in.Company,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		Customer:         utils.DereferencePtr(in.Customer, false),
		Supplier:         utils.DereferencePtr(in.Supplier, false),
		CustomerNumber:   utils.NilIfBlankPtr(in.CustomerNumber),
		SupplierNumber:   utils.NilIfBlankPtr(in.SupplierNumber),
		CreatedDate:      in.CreatedDate.Time,
		LastModifiedDate: in.LastModifiedDate.Time,
	}, nil
}

func decodeUser(raw json.RawMessage) (models.MirrorRecord, error) {
	var in upstreamUser
	if err := decodeUpstream(raw, &in); err != nil {
		return nil, err
	}
	return models.User{
		ID:               in.ID,
		Username:         in.Username,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		Status:           in.Status,
		CreatedDate:      in.CreatedDate.Time,
		LastModifiedDate: in.LastModifiedDate.Time,
	}, nil
}

func decodeOrder(raw json.RawMessage) (models.MirrorRecord, error) {
	var in upstreamOrder
	if err := decodeUpstream(raw, &in); err != nil {
		return nil, err
	}
	return models.Order{
		ID:               in.ID,
		OrderNumber:      in.OrderNumber,
		Status:           in.Status,
		CustomerId:       utils.NilIfBlankPtr(in.CustomerId),
		OrderDate:        in.OrderDate.Time,
		NetAmount:        decimalOrZero(in.NetAmount),
		GrossAmount:      decimalOrZero(in.GrossAmount),
		Currency:         in.RecordCurrencyName,
		Invoiced:         utils.DereferencePtr(in.Invoiced, false),
		Paid:             utils.DereferencePtr(in.Paid, false),
		Shipped:          utils.DereferencePtr(in.Shipped, false),
		ServicesFinished: utils.DereferencePtr(in.ServicesFinished, false),
		CreatedDate:      in.CreatedDate.Time,
		LastModifiedDate: in.LastModifiedDate.Time,
	}, nil
}

func decodeTask(raw json.RawMessage) (models.MirrorRecord, error) {
	var in upstreamTask
	if err := decodeUpstream(raw, &in); err != nil {
		return nil, err
	}
	return models.Task{
		ID:               in.ID,
		Subject:          in.Subject,
		Description:      in.Description,
		Identifier:       in.Identifier,
		Status:           in.TaskStatus,
		Priority:         in.TaskPriority,
		Visibility:       in.TaskVisibilityType,
		PlannedEffort:    in.PlannedEffort,
		DateFrom:         in.DateFrom.Time,
		DateTo:           in.DateTo.Time,
		AllowTimeBooking: utils.DereferencePtr(in.AllowTimeBooking, true),
		AllowOverBooking: utils.DereferencePtr(in.AllowOverBooking, false),
		CreatorUserId:    utils.NilIfBlankPtr(in.CreatorUserId),
		CustomerId:       utils.NilIfBlankPtr(in.CustomerId),
		ParentTaskId:     utils.NilIfBlankPtr(in.ParentTaskId),
		PreviousTaskId:   utils.NilIfBlankPtr(in.PreviousTaskId),
		OrderItemId:      utils.NilIfBlankPtr(in.OrderItemId),
		TicketId:         utils.NilIfBlankPtr(in.TicketId),
		Assignees:        opaqueJSON(in.Assignees),
		Watchers:         opaqueJSON(in.Watchers),
		EntityReferences: opaqueJSON(in.EntityReferences),
		CustomAttributes: opaqueJSON(in.CustomAttributes),
		CreatedDate:      in.CreatedDate.Time,
		LastModifiedDate: in.LastModifiedDate.Time,
	}, nil
}

func decodeTimeEntry(raw json.RawMessage) (models.MirrorRecord, error) {
	var in upstreamTimeRecord
	if err := decodeUpstream(raw, &in); err != nil {
		return nil, err
	}
	return models.TimeEntry{
		ID:                      in.ID,
		Description:             in.Description,
		StartDate:               in.StartDate.Time,
		DurationSeconds:         utils.DereferencePtr(in.DurationSeconds, 0),
		BillableDurationSeconds: utils.DereferencePtr(in.BillableDurationSeconds, 0),
		Billable:                utils.DereferencePtr(in.Billable, false),
		HourlyRate:              decimalOrZero(in.HourlyRate),
		TaskId:                  utils.NilIfBlankPtr(in.TaskId),
		UserId:                  utils.NilIfBlankPtr(in.UserId),
		CustomerId:              utils.NilIfBlankPtr(in.CustomerId),
		SalesOrderId:            utils.NilIfBlankPtr(in.SalesOrderId),
		CreatedDate:             in.CreatedDate.Time,
		LastModifiedDate:        in.LastModifiedDate.Time,
	}, nil
}
