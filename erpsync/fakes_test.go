package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"github.com/sirupsen/logrus"
)

var errStorage = errors.New("storage down")

type fakeFetcher struct {
	collections map[string][]string
	fetchErr    map[string]error
	// streamErr is yielded after the records of a collection
	streamErr map[string]error
	fetched   []string
	// onRecord runs before each record is yielded
	onRecord func(collection string, i int)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		collections: map[string][]string{},
		fetchErr:    map[string]error{},
		streamErr:   map[string]error{},
	}
}

func (f *fakeFetcher) set(collection string, records ...string) *fakeFetcher {
	f.collections[collection] = records
	return f
}

func (f *fakeFetcher) FetchCollection(ctx context.Context, collection string) (iter.Seq2[json.RawMessage, error], error) {
	f.fetched = append(f.fetched, collection)
	if err := f.fetchErr[collection]; err != nil {
		return nil, err
	}
	records := f.collections[collection]
	return func(yield func(json.RawMessage, error) bool) {
		for i, rec := range records {
			if f.onRecord != nil {
				f.onRecord(collection, i)
			}
			if !yield(json.RawMessage(rec), nil) {
				return
			}
		}
		if err := f.streamErr[collection]; err != nil {
			yield(nil, err)
		}
	}, nil
}

type memStore struct {
	mu        sync.Mutex
	rows      map[models.EntityType]map[string]map[string]interface{}
	failIds   map[string]bool
	knownErr  error
	upserts   int
	knownCall map[models.EntityType]int
}

func newMemStore() *memStore {
	return &memStore{
		rows:      map[models.EntityType]map[string]map[string]interface{}{},
		failIds:   map[string]bool{},
		knownCall: map[models.EntityType]int{},
	}
}

func (s *memStore) seed(entityType models.EntityType, ids ...string) {
	for _, id := range ids {
		s.table(entityType)[id] = map[string]interface{}{"is_active": true}
	}
}

func (s *memStore) table(entityType models.EntityType) map[string]map[string]interface{} {
	t, ok := s.rows[entityType]
	if !ok {
		t = map[string]map[string]interface{}{}
		s.rows[entityType] = t
	}
	return t
}

func (s *memStore) row(entityType models.EntityType, id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[entityType][id]
	return r, ok
}

func (s *memStore) Upsert(ctx context.Context, entityType models.EntityType, id string, createFields map[string]interface{}, updateFields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failIds[id] {
		return errStorage
	}
	t := s.table(entityType)
	existing, ok := t[id]
	if !ok {
		row := make(map[string]interface{}, len(createFields))
		for k, v := range createFields {
			row[k] = v
		}
		t[id] = row
		return nil
	}
	for k, v := range updateFields {
		existing[k] = v
	}
	return nil
}

func (s *memStore) KnownIds(ctx context.Context, entityType models.EntityType) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knownCall[entityType]++
	if s.knownErr != nil {
		return nil, s.knownErr
	}
	out := map[string]struct{}{}
	for id := range s.rows[entityType] {
		out[id] = struct{}{}
	}
	return out, nil
}

type memRecorder struct {
	diags []Diagnostic
}

func (r *memRecorder) RecordDiagnostic(ctx context.Context, d Diagnostic) {
	r.diags = append(r.diags, d)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestReconciler(f Fetcher, s Store, rec Recorder, now time.Time) *Reconciler {
	return NewReconciler(f, s, WithRecorder(rec), WithReconcilerLogger(quietLogger()), WithClock(fixedClock(now)))
}

func strField(t *testing.T, row map[string]interface{}, col string) *string {
	t.Helper()
	v, ok := row[col]
	if !ok || v == nil {
		return nil
	}
	switch s := v.(type) {
	case *string:
		return s
	case string:
		return &s
	}
	t.Fatalf("column %s has unexpected type %T", col, v)
	return nil
}
