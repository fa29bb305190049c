package erpsync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const (
	runLockKey     = "erpsync:run"
	defaultLockTTL = 2 * time.Minute
)

// RunLocker guards whole runs against each other. Records are never locked individually.
type RunLocker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type RedisRunLocker struct {
	client *redislock.Client
	key    string
	ttl    time.Duration
}

func NewRedisRunLocker(client *redislock.Client, ttl time.Duration) *RedisRunLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisRunLocker{client: client, key: runLockKey, ttl: ttl}
}

// Acquire obtains the run lock and keeps refreshing it until release is called.
func (l *RedisRunLocker) Acquire(ctx context.Context) (func(), error) {
	lock, err := l.client.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), l.ttl, nil); err != nil {
					config.GetLogger().WithError(err).Warn("erp sync run lock refresh failed")
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.GetLogger().WithError(err).Warn("erp sync run lock release failed")
		}
	}, nil
}

// Runner reconciles entity types one at a time in dependency order, sharing one mirror index.
type Runner struct {
	reconciler *Reconciler
	locker     RunLocker
	logger     *logrus.Logger
}

// NewRunner builds a runner; a nil locker leaves runs unguarded.
func NewRunner(reconciler *Reconciler, locker RunLocker) *Runner {
	return &Runner{
		reconciler: reconciler,
		locker:     locker,
		logger:     config.GetLogger(),
	}
}

// Run reconciles the given types (all when empty). A failed entity type does not stop the
// next one; cancellation does.
func (r *Runner) Run(ctx context.Context, types []models.EntityType) (RunSummary, error) {
	if len(types) == 0 {
		types = models.AllEntityTypes()
	}
	types = models.SortEntityTypes(types)

	if r.locker != nil {
		release, err := r.locker.Acquire(ctx)
		if err != nil {
			return RunSummary{}, err
		}
		defer release()
	}

	idx := NewMirrorIndex()
	results := make([]EntityResult, 0, len(types))
	for _, et := range types {
		res := r.reconciler.Reconcile(ctx, et, idx)
		results = append(results, res)
		if res.State == StateAborted {
			break
		}
	}

	summary := Summarize(results)
	r.logger.WithFields(logrus.Fields{
		"status":    summary.Status(),
		"succeeded": summary.Total.Succeeded,
		"fallback":  summary.Total.Fallback,
		"failed":    summary.Total.Failed,
	}).Info("erp sync run finished")
	return summary, nil
}
