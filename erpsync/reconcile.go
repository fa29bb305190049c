package erpsync

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"bitbucket.org/mmdatafocus/erp_mirror/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type State string

const (
	StateIdle                State = "idle"
	StateFetching            State = "fetching"
	StateValidating          State = "validating"
	StateUpserting           State = "upserting"
	StateCompleted           State = "completed"
	StateCompletedWithErrors State = "completed_with_errors"
	StateFailed              State = "failed"
	StateAborted             State = "aborted"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCompletedWithErrors, StateFailed, StateAborted:
		return true
	}
	return false
}

// Fetcher is the upstream client as seen by the reconciler.
type Fetcher interface {
	FetchCollection(ctx context.Context, collection string) (iter.Seq2[json.RawMessage, error], error)
}

// Store is the mirror store: upsert-by-id and id-set lookup.
type Store interface {
	IdLookup
	Upsert(ctx context.Context, entityType models.EntityType, id string, createFields map[string]interface{}, updateFields map[string]interface{}) error
}

// Diagnostic is one fallback or failed record.
type Diagnostic struct {
	EntityType models.EntityType
	RecordId   string
	Outcome    string
	Code       string
	Fields     []string
	Message    string
	Payload    json.RawMessage
}

// Recorder persists diagnostics. Implementations log their own failures.
type Recorder interface {
	RecordDiagnostic(ctx context.Context, d Diagnostic)
}

type EntityResult struct {
	EntityType models.EntityType
	State      State
	Counters   Counters
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type Reconciler struct {
	fetcher  Fetcher
	store    Store
	recorder Recorder
	logger   *logrus.Logger
	now      func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithRecorder(rec Recorder) ReconcilerOption {
	return func(r *Reconciler) { r.recorder = rec }
}

func WithReconcilerLogger(logger *logrus.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

// WithClock overrides the lastSyncAt source.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(fetcher Fetcher, store Store, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		fetcher: fetcher,
		store:   store,
		logger:  config.GetLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one entity type: fetch, normalize, validate and upsert every record.
// Per-record failures are counted and never stop the batch. Only a failed first fetch
// (or index load) ends in StateFailed. A nil idx gets a fresh index for this call.
func (r *Reconciler) Reconcile(ctx context.Context, entityType models.EntityType, idx *MirrorIndex) (res EntityResult) {
	res = EntityResult{EntityType: entityType, State: StateIdle, StartedAt: r.now()}

	ctx, span := otel.Tracer("erp_mirror/erpsync").Start(ctx, "erpsync.reconcile")
	span.SetAttributes(attribute.String("erp.entity_type", entityType.String()))
	defer func() {
		res.FinishedAt = r.now()
		span.SetAttributes(
			attribute.String("erp.state", string(res.State)),
			attribute.Int("erp.succeeded", res.Counters.Succeeded),
			attribute.Int("erp.fallback", res.Counters.Fallback),
			attribute.Int("erp.failed", res.Counters.Failed),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	log := r.logger.WithField("entity_type", entityType.String())

	desc, ok := DescriptorFor(entityType)
	if !ok {
		res.State = StateFailed
		res.Err = fmt.Errorf("%w: %q", models.ErrUnknownEntityType, entityType)
		return res
	}
	if idx == nil {
		idx = NewMirrorIndex()
	}
	if err := ctx.Err(); err != nil {
		res.State, res.Err = StateAborted, err
		return res
	}

	res.State = StateFetching
	records, err := r.fetcher.FetchCollection(ctx, desc.Collection)
	if err != nil {
		if ctx.Err() != nil {
			res.State, res.Err = StateAborted, ctx.Err()
			return res
		}
		res.State, res.Err = StateFailed, err
		config.LogError(r.logger, "erpsync", "Reconcile", "fetch "+desc.Collection, map[string]interface{}{"entity_type": entityType.String(), "code": CodeUpstreamUnavailable}, err)
		return res
	}

	if err := idx.Load(ctx, r.store, desc.ReferencedTypes()...); err != nil {
		if ctx.Err() != nil {
			res.State, res.Err = StateAborted, ctx.Err()
			return res
		}
		res.State, res.Err = StateFailed, err
		config.LogError(r.logger, "erpsync", "Reconcile", "load mirror index", map[string]interface{}{"entity_type": entityType.String()}, err)
		return res
	}

	var streamErr error
	for raw, err := range records {
		if err != nil {
			streamErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
		r.reconcileRecord(ctx, desc, raw, idx, &res)
	}

	switch {
	case ctx.Err() != nil:
		res.State, res.Err = StateAborted, ctx.Err()
		log.WithField("processed", res.Counters.Total()).Warn("reconciliation aborted")
	case streamErr != nil:
		res.State, res.Err = StateCompletedWithErrors, streamErr
		config.LogError(r.logger, "erpsync", "Reconcile", "fetch "+desc.Collection+" next page", map[string]interface{}{"entity_type": entityType.String(), "code": CodeUpstreamUnavailable}, streamErr)
	case res.Counters.Failed > 0:
		res.State = StateCompletedWithErrors
	default:
		res.State = StateCompleted
	}

	log.WithFields(logrus.Fields{
		"state":     res.State,
		"succeeded": res.Counters.Succeeded,
		"fallback":  res.Counters.Fallback,
		"failed":    res.Counters.Failed,
	}).Info("reconciliation finished")
	return res
}

func (r *Reconciler) reconcileRecord(ctx context.Context, desc Descriptor, raw json.RawMessage, idx *MirrorIndex, res *EntityResult) {
	res.State = StateValidating
	rec, err := Normalize(raw, desc.EntityType)
	if err != nil {
		res.Counters.Failed++
		r.report(ctx, Diagnostic{
			EntityType: desc.EntityType,
			RecordId:   peekId(raw),
			Outcome:    models.SyncOutcomeFailed,
			Code:       CodeMalformedRecord,
			Message:    err.Error(),
			Payload:    raw,
		})
		return
	}

	validated, err := Validate(rec, idx)
	if err != nil {
		res.Counters.Failed++
		r.report(ctx, Diagnostic{
			EntityType: desc.EntityType,
			RecordId:   rec.ID,
			Outcome:    models.SyncOutcomeFailed,
			Code:       CodeSyncFailed,
			Message:    err.Error(),
			Payload:    raw,
		})
		return
	}

	res.State = StateUpserting
	fields := validated.Fields
	fields["is_active"] = true
	fields["last_sync_at"] = r.now()

	if err := r.store.Upsert(ctx, desc.EntityType, rec.ID, fields, fields); err != nil {
		res.Counters.Failed++
		r.report(ctx, Diagnostic{
			EntityType: desc.EntityType,
			RecordId:   rec.ID,
			Outcome:    models.SyncOutcomeFailed,
			Code:       classifyStorageError(err),
			Fields:     validated.InvalidFields,
			Message:    fmt.Errorf("%w: %v", ErrStorageWriteFailed, err).Error(),
			Payload:    raw,
		})
		return
	}
	idx.Add(desc.EntityType, rec.ID)

	if validated.Valid() {
		res.Counters.Succeeded++
		return
	}
	res.Counters.Fallback++
	r.report(ctx, Diagnostic{
		EntityType: desc.EntityType,
		RecordId:   rec.ID,
		Outcome:    models.SyncOutcomeFallback,
		Code:       CodeReferentialFallback,
		Fields:     validated.InvalidFields,
		Message:    fallbackMessage(desc, validated.InvalidFields),
	})
}

func (r *Reconciler) report(ctx context.Context, d Diagnostic) {
	fields := logrus.Fields{
		"entity_type": d.EntityType.String(),
		"record_id":   d.RecordId,
		"outcome":     d.Outcome,
		"fields":      strings.Join(d.Fields, ","),
		"code":        d.Code,
	}
	if runId, ok := utils.GetRunIdFromContext(ctx); ok {
		fields["run_id"] = runId
	}
	entry := r.logger.WithFields(fields)
	if d.Outcome == models.SyncOutcomeFallback {
		entry.Warn(d.Message)
	} else {
		entry.Error(d.Message)
	}
	if r.recorder != nil {
		r.recorder.RecordDiagnostic(ctx, d)
	}
}

func fallbackMessage(desc Descriptor, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		for _, fk := range desc.ForeignKeys {
			if fk.Field == f {
				parts = append(parts, fmt.Sprintf("%s: unknown %s", f, fk.Target))
				break
			}
		}
	}
	return "references nulled (" + strings.Join(parts, "; ") + ")"
}

// peekId pulls the id out of a record that failed to normalize, for diagnostics only.
func peekId(raw json.RawMessage) string {
	var probe struct {
		ID interface{} `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.ID == nil {
		return ""
	}
	return fmt.Sprint(probe.ID)
}
