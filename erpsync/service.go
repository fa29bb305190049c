package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"bitbucket.org/mmdatafocus/erp_mirror/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const lastSummaryKey = "erpsync:last_summary"

// CachedSummary is what GET /summary serves from redis.
type CachedSummary struct {
	RunId      uint       `json:"runId"`
	Status     string     `json:"status"`
	FinishedAt time.Time  `json:"finishedAt"`
	Summary    RunSummary `json:"summary"`
}

// Service ties runs to their sync_runs rows: queue, dispatch, execute, retry.
type Service struct {
	db        *gorm.DB
	runner    *Runner
	publisher Publisher
	logger    *logrus.Logger
}

// NewService builds the run service. A nil publisher executes queued runs in-process.
func NewService(db *gorm.DB, runner *Runner, publisher Publisher) *Service {
	return &Service{
		db:        db,
		runner:    runner,
		publisher: publisher,
		logger:    config.GetLogger(),
	}
}

// ParseEntityTypes accepts entity, table or collection names; empty means all types.
func ParseEntityTypes(names []string) ([]models.EntityType, error) {
	types := make([]models.EntityType, 0, len(names))
	for _, name := range names {
		et, err := models.ParseEntityType(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, name)
		}
		types = append(types, et)
	}
	if len(types) == 0 {
		return models.AllEntityTypes(), nil
	}
	return models.SortEntityTypes(types), nil
}

func encodeEntityTypes(types []models.EntityType) datatypes.JSON {
	names := make([]string, 0, len(types))
	for _, et := range types {
		names = append(names, et.String())
	}
	b, _ := json.Marshal(names)
	return datatypes.JSON(b)
}

func decodeEntityTypes(raw datatypes.JSON) []models.EntityType {
	var names []string
	if len(raw) == 0 || json.Unmarshal(raw, &names) != nil {
		return models.AllEntityTypes()
	}
	types, err := ParseEntityTypes(names)
	if err != nil {
		return models.AllEntityTypes()
	}
	return types
}

func (s *Service) Enqueue(ctx context.Context, types []models.EntityType, triggeredBy string, parentRunId *uint) (*models.SyncRun, error) {
	if len(types) == 0 {
		types = models.AllEntityTypes()
	}
	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
	}
	run := &models.SyncRun{
		Status:        models.SyncRunStatusQueued,
		TriggeredBy:   triggeredBy,
		EntityTypes:   encodeEntityTypes(models.SortEntityTypes(types)),
		ParentRunId:   parentRunId,
		CorrelationId: correlationId,
	}
	if err := models.CreateSyncRun(ctx, s.db, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Dispatch hands a queued run to Pub/Sub, or runs it in the background when
// there is no publisher or publishing fails.
func (s *Service) Dispatch(ctx context.Context, run *models.SyncRun) {
	msg := RunMessage{RunId: run.ID, CorrelationId: run.CorrelationId}
	if s.publisher != nil {
		err := s.publisher.PublishRun(ctx, msg)
		if err == nil {
			return
		}
		config.LogError(s.logger, "erpsync", "Dispatch", "publish sync run", msg, err)
	}

	go func() {
		runCtx, cancel := detachedRunContext(ctx)
		defer cancel()
		if _, err := s.Execute(runCtx, run.ID); err != nil {
			config.LogError(s.logger, "erpsync", "Dispatch", "execute sync run", msg, err)
			// nothing redelivers an in-process run
			if errors.Is(err, ErrRunInProgress) {
				s.failRun(runCtx, run.ID, err)
			}
		}
	}()
}

// detachedRunContext keeps the values of parent but not its cancellation, bounded by the run timeout.
func detachedRunContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), config.SyncRunTimeout())
}

// failRun closes a run that will not be picked up again.
func (s *Service) failRun(ctx context.Context, runId uint, cause error) {
	if err := models.FinishSyncRun(context.WithoutCancel(ctx), s.db, runId, map[string]interface{}{
		"status":      models.SyncRunStatusFailed,
		"finished_at": time.Now(),
	}); err != nil {
		config.LogError(s.logger, "erpsync", "failRun", "mark sync run failed", map[string]interface{}{
			"run_id": runId,
			"cause":  cause.Error(),
		}, err)
	}
}

// Trigger queues a run and dispatches it.
func (s *Service) Trigger(ctx context.Context, types []models.EntityType, triggeredBy string) (*models.SyncRun, error) {
	run, err := s.Enqueue(ctx, types, triggeredBy, nil)
	if err != nil {
		return nil, err
	}
	s.Dispatch(ctx, run)
	return run, nil
}

// Retry queues a new run for the entity types of runId.
func (s *Service) Retry(ctx context.Context, runId uint) (*models.SyncRun, error) {
	prev, err := s.getRun(ctx, runId)
	if err != nil {
		return nil, err
	}
	run, err := s.Enqueue(ctx, decodeEntityTypes(prev.EntityTypes), models.SyncTriggeredRetry, &prev.ID)
	if err != nil {
		return nil, err
	}
	s.Dispatch(ctx, run)
	return run, nil
}

// RunNow queues and executes a run synchronously. Used by the CLI.
func (s *Service) RunNow(ctx context.Context, types []models.EntityType, triggeredBy string) (*models.SyncRun, *RunSummary, error) {
	run, err := s.Enqueue(ctx, types, triggeredBy, nil)
	if err != nil {
		return nil, nil, err
	}
	summary, err := s.Execute(ctx, run.ID)
	if errors.Is(err, ErrRunInProgress) {
		// nothing redelivers a CLI run either
		s.failRun(ctx, run.ID, err)
	}
	if err != nil {
		return run, nil, err
	}
	if summary == nil {
		return run, nil, fmt.Errorf("sync run %d was claimed by another worker", run.ID)
	}
	if refreshed, err := models.GetSyncRun(context.WithoutCancel(ctx), s.db, run.ID); err == nil {
		run = refreshed
	}
	return run, summary, nil
}

// Execute moves a queued run to running, reconciles and records the outcome.
// It returns (nil, nil) when the run already left the queue, so duplicate deliveries are no-ops.
// ErrRunInProgress puts the run back in the queue.
func (s *Service) Execute(ctx context.Context, runId uint) (*RunSummary, error) {
	run, err := s.getRun(ctx, runId)
	if err != nil {
		return nil, err
	}
	if run.Status != models.SyncRunStatusQueued {
		return nil, nil
	}

	startedAt := time.Now()
	claimed, err := models.MarkSyncRunRunning(ctx, s.db, run.ID, startedAt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}

	ctx = utils.SetRunIdInContext(ctx, run.ID)
	ctx = utils.SetCorrelationIdInContext(ctx, run.CorrelationId)
	log := s.logger.WithFields(logrus.Fields{"run_id": run.ID, "correlation_id": run.CorrelationId, "triggered_by": run.TriggeredBy})
	log.Info("erp sync run started")

	// bookkeeping outlives cancellation of the run itself
	bookCtx := context.WithoutCancel(ctx)

	summary, err := s.runner.Run(ctx, decodeEntityTypes(run.EntityTypes))
	if errors.Is(err, ErrRunInProgress) {
		log.Warn("another erp sync run holds the lock; run requeued")
		if rqErr := models.FinishSyncRun(bookCtx, s.db, run.ID, map[string]interface{}{
			"status":     models.SyncRunStatusQueued,
			"started_at": nil,
		}); rqErr != nil {
			return nil, rqErr
		}
		return nil, err
	}
	if err != nil {
		s.failRun(bookCtx, run.ID, err)
		return nil, err
	}

	finishedAt := time.Now()
	statsJSON, _ := json.Marshal(summary)
	status := summary.Status()
	if err := models.FinishSyncRun(bookCtx, s.db, run.ID, map[string]interface{}{
		"status":      status,
		"finished_at": finishedAt,
		"duration_ms": finishedAt.Sub(startedAt).Milliseconds(),
		"succeeded":   summary.Total.Succeeded,
		"fallback":    summary.Total.Fallback,
		"failed":      summary.Total.Failed,
		"stats_json":  datatypes.JSON(statsJSON),
	}); err != nil {
		return &summary, err
	}

	if err := config.SetRedisObject(lastSummaryKey, CachedSummary{
		RunId:      run.ID,
		Status:     status,
		FinishedAt: finishedAt,
		Summary:    summary,
	}, 0); err != nil {
		log.WithError(err).Warn("cache last erp sync summary failed")
	}
	return &summary, nil
}

func (s *Service) getRun(ctx context.Context, runId uint) (*models.SyncRun, error) {
	run, err := models.GetSyncRun(ctx, s.db, runId)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRun, runId)
	}
	return run, err
}

// LastSummary reads the cached summary of the most recent finished run.
func LastSummary() (*CachedSummary, bool, error) {
	var cached CachedSummary
	found, err := config.GetRedisObject(lastSummaryKey, &cached)
	if err != nil || !found {
		return nil, found, err
	}
	return &cached, true, nil
}
