package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/septivank/meter-reading-service/internal/apperr"
	"github.com/septivank/meter-reading-service/internal/db"
	"github.com/septivank/meter-reading-service/internal/repository"
)

// fakeStore keeps measures in memory. Transactions are serialized by a
// mutex, which stands in for the advisory and row locks of the real store.
type fakeStore struct {
	mu       sync.Mutex
	measures map[uuid.UUID]db.Measure

	transactions int
	commits      int
	rollbacks    int
	locks        []string

	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{measures: make(map[uuid.UUID]db.Measure)}
}

func (f *fakeStore) InTx(ctx context.Context, fn func(q repository.Queries) error) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transactions++
	snapshot := make(map[uuid.UUID]db.Measure, len(f.measures))
	for k, v := range f.measures {
		snapshot[k] = v
	}

	defer func() {
		if r := recover(); r != nil {
			f.measures = snapshot
			f.rollbacks++
			panic(r)
		}
	}()

	if err := fn(&fakeQueries{store: f}); err != nil {
		f.measures = snapshot
		f.rollbacks++
		return err
	}

	f.commits++
	return nil
}

func (f *fakeStore) ListByCustomer(ctx context.Context, customerCode string, measureType *db.MeasureType) ([]db.Measure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []db.Measure
	for _, m := range f.measures {
		if m.CustomerCode != customerCode {
			continue
		}
		if measureType != nil && m.MeasureType != *measureType {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MeasureDatetime.Before(out[j].MeasureDatetime)
	})
	return out, nil
}

func (f *fakeStore) get(id uuid.UUID) (db.Measure, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.measures[id]
	return m, ok
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.measures)
}

// fakeQueries runs with the store mutex already held
type fakeQueries struct {
	store *fakeStore
}

func (q *fakeQueries) LockPeriod(ctx context.Context, customerCode string, measureType db.MeasureType, period time.Time) error {
	q.store.locks = append(q.store.locks, customerCode+":"+string(measureType)+":"+period.Format("2006-01"))
	return nil
}

func (q *fakeQueries) FindActiveByPeriod(ctx context.Context, customerCode string, measureType db.MeasureType, period time.Time) (*db.Measure, error) {
	for _, m := range q.store.measures {
		if m.CustomerCode == customerCode && m.MeasureType == measureType && m.MeasurePeriod.Equal(period) {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

func (q *fakeQueries) FindByUUID(ctx context.Context, id uuid.UUID, lockForUpdate bool) (*db.Measure, error) {
	m, ok := q.store.measures[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (q *fakeQueries) Insert(ctx context.Context, measure *db.Measure) error {
	if q.store.insertErr != nil {
		return q.store.insertErr
	}
	for _, m := range q.store.measures {
		if m.CustomerCode == measure.CustomerCode && m.MeasureType == measure.MeasureType && m.MeasurePeriod.Equal(measure.MeasurePeriod) {
			return apperr.New(apperr.KindDuplicateMeasure, "unique violation")
		}
	}
	q.store.measures[measure.UUID] = *measure
	return nil
}

func (q *fakeQueries) Confirm(ctx context.Context, id uuid.UUID, confirmedValue float64, confirmedBy string, confirmedAt time.Time) error {
	m, ok := q.store.measures[id]
	if !ok || m.IsConfirmed {
		return apperr.New(apperr.KindAlreadyConfirmed, "already confirmed")
	}
	m.IsConfirmed = true
	m.ConfirmedValue = &confirmedValue
	m.ConfirmedBy = &confirmedBy
	m.ConfirmedAt = &confirmedAt
	q.store.measures[id] = m
	return nil
}
