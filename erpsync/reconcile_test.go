package erpsync

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"bitbucket.org/mmdatafocus/erp_mirror/upstream"
)

var syncTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestRunPartyThenTaskScenario(t *testing.T) {
	fetcher := newFakeFetcher().
		set("party", `{"id":"P1"}`).
		set("task", `{"id":"T1","customerId":"P1","creatorUserId":"U9"}`)
	store := newMemStore()
	recorder := &memRecorder{}

	runner := NewRunner(newTestReconciler(fetcher, store, recorder, syncTime), nil)
	summary, err := runner.Run(context.Background(), []models.EntityType{models.EntityTypeTask, models.EntityTypeParty})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, e := range summary.Entities {
		if !e.State.Terminal() {
			t.Fatalf("%s left in non-terminal state %s", e.EntityType, e.State)
		}
	}
	if !reflect.DeepEqual(fetcher.fetched, []string{"party", "task"}) {
		t.Fatalf("expected party before task, fetched %v", fetcher.fetched)
	}

	party, ok := store.row(models.EntityTypeParty, "P1")
	if !ok || party["is_active"] != true {
		t.Fatalf("expected active party P1, got %v", party)
	}
	task, ok := store.row(models.EntityTypeTask, "T1")
	if !ok {
		t.Fatalf("task T1 not stored")
	}
	if got := strField(t, task, "customer_id"); got == nil || *got != "P1" {
		t.Fatalf("expected customer_id P1, got %v", got)
	}
	if got := strField(t, task, "creator_user_id"); got != nil {
		t.Fatalf("expected creator_user_id nulled, got %q", *got)
	}

	parties, _ := summary.ByType(models.EntityTypeParty)
	tasks, _ := summary.ByType(models.EntityTypeTask)
	if parties != (Counters{Succeeded: 1}) {
		t.Fatalf("unexpected party counters %+v", parties)
	}
	if tasks != (Counters{Fallback: 1}) {
		t.Fatalf("unexpected task counters %+v", tasks)
	}
	if summary.Total != (Counters{Succeeded: 1, Fallback: 1}) {
		t.Fatalf("unexpected totals %+v", summary.Total)
	}
	if summary.Status() != models.SyncRunStatusSuccess {
		t.Fatalf("fallback alone should not degrade the run, got %s", summary.Status())
	}

	if len(recorder.diags) != 1 {
		t.Fatalf("expected one diagnostic, got %d", len(recorder.diags))
	}
	d := recorder.diags[0]
	if d.RecordId != "T1" || d.Outcome != models.SyncOutcomeFallback || !reflect.DeepEqual(d.Fields, []string{"creatorUserId"}) {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
}

func TestReconcileFallbackKeepsOtherFields(t *testing.T) {
	fetcher := newFakeFetcher().set("task",
		`{"id":"T1","subject":"Install","taskStatus":"OPEN","creatorUserId":"U9","plannedEffort":3600,"assignees":[{"userId":"U1"}]}`)
	store := newMemStore()
	store.seed(models.EntityTypeUser, "U1")

	res := newTestReconciler(fetcher, store, nil, syncTime).Reconcile(context.Background(), models.EntityTypeTask, nil)
	if res.State != StateCompleted {
		t.Fatalf("expected completed, got %s (%v)", res.State, res.Err)
	}
	if res.Counters != (Counters{Fallback: 1}) {
		t.Fatalf("unexpected counters %+v", res.Counters)
	}

	task, _ := store.row(models.EntityTypeTask, "T1")
	if task["creator_user_id"] != nil {
		t.Fatalf("expected creator_user_id nil, got %v", task["creator_user_id"])
	}
	if task["subject"] != "Install" || task["status"] != "OPEN" {
		t.Fatalf("other fields not kept: %v", task)
	}
	if effort, ok := task["planned_effort"].(*int64); !ok || effort == nil || *effort != 3600 {
		t.Fatalf("unexpected planned_effort %v", task["planned_effort"])
	}
	if task["last_sync_at"] != syncTime || task["is_active"] != true {
		t.Fatalf("sync columns not refreshed: %v %v", task["last_sync_at"], task["is_active"])
	}
}

func TestReconcileHealsNulledReference(t *testing.T) {
	taskJSON := `{"id":"T1","customerId":"P2"}`
	store := newMemStore()

	first := newFakeFetcher().set("task", taskJSON)
	res := newTestReconciler(first, store, nil, syncTime).Reconcile(context.Background(), models.EntityTypeTask, nil)
	if res.Counters.Fallback != 1 {
		t.Fatalf("expected fallback on first run, got %+v", res.Counters)
	}
	task, _ := store.row(models.EntityTypeTask, "T1")
	if task["customer_id"] != nil {
		t.Fatalf("expected customer_id nulled, got %v", task["customer_id"])
	}

	second := newFakeFetcher().set("party", `{"id":"P2","company":"Acme"}`).set("task", taskJSON)
	runner := NewRunner(newTestReconciler(second, store, nil, syncTime.Add(time.Hour)), nil)
	summary, err := runner.Run(context.Background(), []models.EntityType{models.EntityTypeParty, models.EntityTypeTask})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tasks, _ := summary.ByType(models.EntityTypeTask); tasks != (Counters{Succeeded: 1}) {
		t.Fatalf("expected healed task to succeed, got %+v", tasks)
	}
	task, _ = store.row(models.EntityTypeTask, "T1")
	if got := strField(t, task, "customer_id"); got == nil || *got != "P2" {
		t.Fatalf("expected customer_id healed to P2, got %v", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	fetcher := newFakeFetcher().
		set("party", `{"id":"P1","company":"Acme","customer":true,"createdDate":1700000000000}`).
		set("salesOrder", `{"id":"O1","orderNumber":"SO-1","customerId":"P1","netAmount":"10.50"}`, `{"id":"O2","customerId":"P404"}`)
	store := newMemStore()

	types := []models.EntityType{models.EntityTypeParty, models.EntityTypeOrder}
	first, err := NewRunner(newTestReconciler(fetcher, store, nil, syncTime), nil).Run(context.Background(), types)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	snapshot := map[string]map[string]interface{}{}
	for _, id := range []string{"O1", "O2"} {
		row, _ := store.row(models.EntityTypeOrder, id)
		cp := map[string]interface{}{}
		for k, v := range row {
			cp[k] = v
		}
		snapshot[id] = cp
	}

	second, err := NewRunner(newTestReconciler(fetcher, store, nil, syncTime.Add(24*time.Hour)), nil).Run(context.Background(), types)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first.Total, second.Total) {
		t.Fatalf("counter shape changed: %+v vs %+v", first.Total, second.Total)
	}
	for id, before := range snapshot {
		after, _ := store.row(models.EntityTypeOrder, id)
		if after["last_sync_at"] != syncTime.Add(24*time.Hour) {
			t.Fatalf("%s last_sync_at not refreshed", id)
		}
		delete(before, "last_sync_at")
		cmp := map[string]interface{}{}
		for k, v := range after {
			if k != "last_sync_at" {
				cmp[k] = v
			}
		}
		if !reflect.DeepEqual(before, cmp) {
			t.Fatalf("%s changed between runs:\n%v\n%v", id, before, cmp)
		}
	}
}

func TestReconcileIsolatesRecordFailures(t *testing.T) {
	fetcher := newFakeFetcher().set("party",
		`{"id":"P1"}`,
		`{"company":"no id"}`,
		`{"id":"P3"}`,
		`{"id":"P4"}`,
		`not json`,
		`{"id":"P6"}`,
	)
	store := newMemStore()
	store.failIds["P4"] = true
	recorder := &memRecorder{}

	res := newTestReconciler(fetcher, store, recorder, syncTime).Reconcile(context.Background(), models.EntityTypeParty, nil)
	if res.State != StateCompletedWithErrors {
		t.Fatalf("expected completed with errors, got %s", res.State)
	}
	if res.Counters != (Counters{Succeeded: 3, Failed: 3}) {
		t.Fatalf("unexpected counters %+v", res.Counters)
	}
	for _, id := range []string{"P1", "P3", "P6"} {
		if _, ok := store.row(models.EntityTypeParty, id); !ok {
			t.Fatalf("%s should have been upserted", id)
		}
	}

	codes := map[string]int{}
	for _, d := range recorder.diags {
		if d.Outcome != models.SyncOutcomeFailed {
			t.Fatalf("unexpected outcome %q", d.Outcome)
		}
		codes[d.Code]++
	}
	if codes[CodeMalformedRecord] != 2 || codes[CodeSyncFailed] != 1 {
		t.Fatalf("unexpected diagnostic codes %v", codes)
	}
}

func TestReconcileTreatsEmptyStringAsAbsent(t *testing.T) {
	fetcher := newFakeFetcher().set("task",
		`{"id":"T1","customerId":""}`,
		`{"id":"T2"}`,
		`{"id":"T3","customerId":"   ","parentTaskId":""}`,
	)
	store := newMemStore()

	res := newTestReconciler(fetcher, store, nil, syncTime).Reconcile(context.Background(), models.EntityTypeTask, nil)
	if res.Counters != (Counters{Succeeded: 3}) {
		t.Fatalf("blank references must validate as absent, got %+v", res.Counters)
	}
	for _, id := range []string{"T1", "T2", "T3"} {
		row, _ := store.row(models.EntityTypeTask, id)
		if got := strField(t, row, "customer_id"); got != nil {
			t.Fatalf("%s customer_id should be NULL, got %q", id, *got)
		}
	}
}

func TestReconcileSelfReferenceWithinBatch(t *testing.T) {
	fetcher := newFakeFetcher().set("task",
		`{"id":"T1"}`,
		`{"id":"T2","parentTaskId":"T1","previousTaskId":"T1"}`,
		`{"id":"T3","parentTaskId":"T9"}`,
	)
	store := newMemStore()

	res := newTestReconciler(fetcher, store, nil, syncTime).Reconcile(context.Background(), models.EntityTypeTask, nil)
	if res.Counters != (Counters{Succeeded: 2, Fallback: 1}) {
		t.Fatalf("unexpected counters %+v", res.Counters)
	}
	row, _ := store.row(models.EntityTypeTask, "T2")
	if got := strField(t, row, "parent_task_id"); got == nil || *got != "T1" {
		t.Fatalf("expected parent_task_id T1, got %v", got)
	}
}

func TestReconcileLoadsIndexOncePerRun(t *testing.T) {
	fetcher := newFakeFetcher().
		set("task", `{"id":"T1","customerId":"P1"}`, `{"id":"T2","customerId":"P1"}`).
		set("timeRecord", `{"id":"E1","taskId":"T1","customerId":"P1","userId":"U1"}`)
	store := newMemStore()
	store.seed(models.EntityTypeParty, "P1")
	store.seed(models.EntityTypeUser, "U1")

	summary, err := NewRunner(newTestReconciler(fetcher, store, nil, syncTime), nil).Run(context.Background(), []models.EntityType{models.EntityTypeTask, models.EntityTypeTimeEntry})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Total != (Counters{Succeeded: 3}) {
		t.Fatalf("unexpected totals %+v", summary.Total)
	}
	for et, calls := range store.knownCall {
		if calls != 1 {
			t.Fatalf("%s ids loaded %d times", et, calls)
		}
	}
}

func TestReconcileUpstreamUnavailableFailsOnlyThatType(t *testing.T) {
	fetcher := newFakeFetcher().
		set("party", `{"id":"P1"}`).
		set("timeRecord", `{"id":"E1","customerId":"P1"}`)
	fetcher.fetchErr["task"] = &upstream.Error{Collection: "task", Page: 1, StatusCode: 503}
	store := newMemStore()

	summary, err := NewRunner(newTestReconciler(fetcher, store, nil, syncTime), nil).Run(context.Background(),
		[]models.EntityType{models.EntityTypeParty, models.EntityTypeTask, models.EntityTypeTimeEntry})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	states := map[models.EntityType]State{}
	for _, es := range summary.Entities {
		states[es.EntityType] = es.State
	}
	if states[models.EntityTypeTask] != StateFailed {
		t.Fatalf("expected task failed, got %s", states[models.EntityTypeTask])
	}
	if states[models.EntityTypeParty] != StateCompleted || states[models.EntityTypeTimeEntry] != StateCompleted {
		t.Fatalf("other types should complete: %v", states)
	}
	if _, ok := store.row(models.EntityTypeTimeEntry, "E1"); !ok {
		t.Fatalf("time entries should still be synced")
	}
	if summary.Status() != models.SyncRunStatusPartial {
		t.Fatalf("expected partial, got %s", summary.Status())
	}
	for _, es := range summary.Entities {
		if es.EntityType == models.EntityTypeTask && es.Error == "" {
			t.Fatalf("failed entity should carry its error")
		}
	}
}

func TestReconcileLaterPageFailureKeepsProcessedRecords(t *testing.T) {
	fetcher := newFakeFetcher().set("party", `{"id":"P1"}`, `{"id":"P2"}`)
	fetcher.streamErr["party"] = &upstream.Error{Collection: "party", Page: 2, StatusCode: 502}
	store := newMemStore()

	res := newTestReconciler(fetcher, store, nil, syncTime).Reconcile(context.Background(), models.EntityTypeParty, nil)
	if res.State != StateCompletedWithErrors {
		t.Fatalf("expected completed with errors, got %s", res.State)
	}
	if res.Counters != (Counters{Succeeded: 2}) {
		t.Fatalf("unexpected counters %+v", res.Counters)
	}
	if !errors.Is(res.Err, upstream.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", res.Err)
	}
}

func TestReconcileIndexLoadFailure(t *testing.T) {
	fetcher := newFakeFetcher().set("salesOrder", `{"id":"O1"}`)
	store := newMemStore()
	store.knownErr = errStorage

	res := newTestReconciler(fetcher, store, nil, syncTime).Reconcile(context.Background(), models.EntityTypeOrder, nil)
	if res.State != StateFailed || !errors.Is(res.Err, errStorage) {
		t.Fatalf("expected failed with storage error, got %s %v", res.State, res.Err)
	}
	if store.upserts != 0 {
		t.Fatalf("no record should be written without an index")
	}
}

func TestRunCancellationAbortsAndSkipsLaterTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := newFakeFetcher().
		set("party", `{"id":"P1"}`, `{"id":"P2"}`, `{"id":"P3"}`).
		set("task", `{"id":"T1"}`)
	fetcher.onRecord = func(collection string, i int) {
		if collection == "party" && i == 2 {
			cancel()
		}
	}
	store := newMemStore()

	summary, err := NewRunner(newTestReconciler(fetcher, store, nil, syncTime), nil).Run(ctx,
		[]models.EntityType{models.EntityTypeParty, models.EntityTypeTask})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Entities) != 1 || summary.Entities[0].State != StateAborted {
		t.Fatalf("expected only an aborted party run, got %+v", summary.Entities)
	}
	if summary.Entities[0].Succeeded != 2 {
		t.Fatalf("expected 2 parties before cancel, got %+v", summary.Entities[0].Counters)
	}
	if _, ok := store.row(models.EntityTypeParty, "P3"); ok {
		t.Fatalf("P3 should not be written after cancellation")
	}
	for _, c := range fetcher.fetched {
		if c == "task" {
			t.Fatalf("task must not start after abort")
		}
	}
	if summary.Status() != models.SyncRunStatusPartial {
		t.Fatalf("expected partial status, got %s", summary.Status())
	}
}

type denyLocker struct{}

func (denyLocker) Acquire(ctx context.Context) (func(), error) { return nil, ErrRunInProgress }

func TestRunRespectsRunLock(t *testing.T) {
	fetcher := newFakeFetcher().set("party", `{"id":"P1"}`)
	_, err := NewRunner(newTestReconciler(fetcher, newMemStore(), nil, syncTime), denyLocker{}).Run(context.Background(), nil)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if len(fetcher.fetched) != 0 {
		t.Fatalf("nothing should be fetched without the lock")
	}
}
