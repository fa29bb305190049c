package erpsync

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
)

func TestSummarizeAggregatesInOrder(t *testing.T) {
	summary := Summarize([]EntityResult{
		{EntityType: models.EntityTypeParty, State: StateCompleted, Counters: Counters{Succeeded: 4}},
		{EntityType: models.EntityTypeTask, State: StateCompletedWithErrors, Counters: Counters{Succeeded: 1, Fallback: 2, Failed: 1}},
		{EntityType: models.EntityTypeTimeEntry, State: StateFailed, Err: errors.New("upstream timeRecord page 1: status 503")},
	})

	if len(summary.Entities) != 3 || summary.Entities[1].EntityType != models.EntityTypeTask {
		t.Fatalf("entities out of order: %+v", summary.Entities)
	}
	if summary.Total != (Counters{Succeeded: 5, Fallback: 2, Failed: 1}) {
		t.Fatalf("unexpected totals %+v", summary.Total)
	}
	if summary.Total.Total() != 8 {
		t.Fatalf("unexpected grand total %d", summary.Total.Total())
	}
	if summary.Entities[2].Error == "" {
		t.Fatalf("error text should be kept")
	}
	if _, ok := summary.ByType(models.EntityTypeOrder); ok {
		t.Fatalf("order was not part of the run")
	}
}

func TestRunSummaryStatus(t *testing.T) {
	cases := []struct {
		name    string
		results []EntityResult
		want    string
	}{
		{"empty", nil, models.SyncRunStatusSuccess},
		{"clean with fallback", []EntityResult{{State: StateCompleted, Counters: Counters{Succeeded: 1, Fallback: 3}}}, models.SyncRunStatusSuccess},
		{"record failures", []EntityResult{{State: StateCompletedWithErrors, Counters: Counters{Failed: 1}}}, models.SyncRunStatusPartial},
		{"one type failed", []EntityResult{{State: StateCompleted}, {State: StateFailed}}, models.SyncRunStatusPartial},
		{"aborted", []EntityResult{{State: StateAborted}}, models.SyncRunStatusPartial},
		{"all failed", []EntityResult{{State: StateFailed}, {State: StateFailed}}, models.SyncRunStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Summarize(tc.results).Status(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestRunSummaryWriteTable(t *testing.T) {
	summary := Summarize([]EntityResult{
		{EntityType: models.EntityTypeParty, State: StateCompleted, Counters: Counters{Succeeded: 2}},
		{EntityType: models.EntityTypeTask, State: StateCompleted, Counters: Counters{Fallback: 1}},
	})
	var buf bytes.Buffer
	if err := summary.WriteTable(&buf); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, 2 rows and total, got:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[0], "ENTITY") || !strings.HasPrefix(lines[3], "total") {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}
	if fields := strings.Fields(lines[2]); len(fields) < 5 || fields[0] != "task" || fields[3] != "1" {
		t.Fatalf("unexpected task row %q", lines[2])
	}
}
