package erpsync

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func TestNormalizeTaskDefaults(t *testing.T) {
	rec, err := Normalize(json.RawMessage(`{"id":"T1","subject":"Plan"}`), models.EntityTypeTask)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.ID != "T1" || rec.EntityType != models.EntityTypeTask {
		t.Fatalf("unexpected identity %+v", rec)
	}
	if rec.Fields["allow_time_booking"] != true {
		t.Fatalf("allowTimeBooking should default to true")
	}
	if rec.Fields["allow_over_booking"] != false {
		t.Fatalf("allowOverBooking should default to false")
	}
	if blob := rec.Fields["assignees"].(datatypes.JSON); blob != nil {
		t.Fatalf("absent blob should be NULL, got %s", blob)
	}
	if _, ok := rec.Fields["id"]; ok {
		t.Fatalf("id must not be part of the mutable fields")
	}
}

func TestNormalizeTaskExplicitFlagsWin(t *testing.T) {
	rec, err := Normalize(json.RawMessage(`{"id":"T1","allowTimeBooking":false,"allowOverBooking":true}`), models.EntityTypeTask)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.Fields["allow_time_booking"] != false || rec.Fields["allow_over_booking"] != true {
		t.Fatalf("explicit flags not kept: %v", rec.Fields)
	}
}

func TestNormalizeTimeEntryBillableDefault(t *testing.T) {
	rec, err := Normalize(json.RawMessage(`{"id":"E1","durationSeconds":5400,"hourlyRate":"85.5"}`), models.EntityTypeTimeEntry)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.Fields["billable"] != false {
		t.Fatalf("billable should default to false")
	}
	if rec.Fields["duration_seconds"] != int64(5400) || rec.Fields["billable_duration_seconds"] != int64(0) {
		t.Fatalf("unexpected durations %v %v", rec.Fields["duration_seconds"], rec.Fields["billable_duration_seconds"])
	}
	rate := rec.Fields["hourly_rate"].(decimal.Decimal)
	if !rate.Equal(decimal.RequireFromString("85.5")) {
		t.Fatalf("unexpected hourly rate %s", rate)
	}
}

func TestNormalizeEpochMillis(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want *time.Time
	}{
		{"absent", `{"id":"P1"}`, nil},
		{"null", `{"id":"P1","createdDate":null}`, nil},
		{"zero", `{"id":"P1","createdDate":0}`, nil},
		{"false", `{"id":"P1","createdDate":false}`, nil},
		{"millis", `{"id":"P1","createdDate":1700000000123}`, ptrTime(time.UnixMilli(1700000000123).UTC())},
		{"quoted millis", `{"id":"P1","createdDate":"1700000000123"}`, ptrTime(time.UnixMilli(1700000000123).UTC())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Normalize(json.RawMessage(tc.raw), models.EntityTypeParty)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			got := rec.Fields["created_date"].(*time.Time)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("expected no date, got %v", *got)
				}
				return
			}
			if got == nil || !got.Equal(*tc.want) {
				t.Fatalf("expected %v, got %v", *tc.want, got)
			}
		})
	}
}

func TestNormalizeMissingIdIsMalformed(t *testing.T) {
	for _, raw := range []string{`{}`, `{"id":""}`, `null`, ``, `{"id":12}`, `[1,2]`} {
		for _, et := range models.AllEntityTypes() {
			_, err := Normalize(json.RawMessage(raw), et)
			if !errors.Is(err, ErrMalformedRecord) {
				t.Fatalf("%s %q: expected ErrMalformedRecord, got %v", et, raw, err)
			}
		}
	}
}

func TestNormalizeInvalidDateIsMalformed(t *testing.T) {
	_, err := Normalize(json.RawMessage(`{"id":"P1","createdDate":"yesterday"}`), models.EntityTypeParty)
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestNormalizeKeepsBlobsOpaque(t *testing.T) {
	raw := `{"id":"T1","customAttributes":[{"attributeDefinitionId":"A1","stringValue":"x"}],"watchers":null}`
	rec, err := Normalize(json.RawMessage(raw), models.EntityTypeTask)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	attrs := rec.Fields["custom_attributes"].(datatypes.JSON)
	if string(attrs) != `[{"attributeDefinitionId":"A1","stringValue":"x"}]` {
		t.Fatalf("blob altered: %s", attrs)
	}
	if watchers := rec.Fields["watchers"].(datatypes.JSON); watchers != nil {
		t.Fatalf("null blob should be NULL, got %s", watchers)
	}
}

func TestNormalizeBlankReferencesBecomeNil(t *testing.T) {
	rec, err := Normalize(json.RawMessage(`{"id":"O1","customerId":"","netAmount":12.25}`), models.EntityTypeOrder)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ref := rec.Fields["customer_id"].(*string); ref != nil {
		t.Fatalf("blank customerId should normalize to nil, got %q", *ref)
	}
	if amt := rec.Fields["net_amount"].(decimal.Decimal); !amt.Equal(decimal.RequireFromString("12.25")) {
		t.Fatalf("unexpected net amount %s", amt)
	}
}

func TestNormalizeUnknownEntityType(t *testing.T) {
	_, err := Normalize(json.RawMessage(`{"id":"X"}`), models.EntityType("invoice"))
	if !errors.Is(err, models.ErrUnknownEntityType) {
		t.Fatalf("expected ErrUnknownEntityType, got %v", err)
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
