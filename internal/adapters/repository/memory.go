package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/metrics"
)

// MemoryStore keeps records in process memory. It is used when no database
// is configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	byID      map[int64]*model.AssessmentRecord
	bySubject map[model.Subject][]int64
	closed    bool
	now       func() time.Time
}

// NewMemoryStore constructs an empty store. Only WithClock applies.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		byID:      make(map[int64]*model.AssessmentRecord),
		bySubject: make(map[model.Subject][]int64),
		now:       o.now,
	}
}

// Insert implements Store.Insert.
func (s *MemoryStore) Insert(ctx context.Context, rec *model.AssessmentRecord) (int64, error) {
	const op = "repository.memory.insert"
	if err := validate(op, rec); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, internal(op, ErrStoreClosed)
	}

	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	stored := clone(rec)
	s.byID[rec.ID] = stored
	s.bySubject[rec.Subject] = append(s.bySubject[rec.Subject], rec.ID)

	metrics.RecordRecordPersisted()
	return rec.ID, nil
}

// UpdateReport implements Store.UpdateReport.
func (s *MemoryStore) UpdateReport(ctx context.Context, id int64, report string) error {
	const op = "repository.memory.update_report"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return internal(op, ErrStoreClosed)
	}
	rec, ok := s.byID[id]
	if !ok {
		return invalid(op, ErrNotFound)
	}
	rec.Report = report
	return nil
}

// History implements Store.History.
func (s *MemoryStore) History(ctx context.Context, subject model.Subject, limit int) ([]model.AssessmentRecord, error) {
	const op = "repository.memory.history"
	limit, err := clampLimit(op, limit)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := s.bySubject[subject]
	out := make([]model.AssessmentRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *clone(s.byID[id]))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Close implements Store.Close. Later writes fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// clone copies rec including its pointer fields so callers cannot mutate
// stored state.
func clone(rec *model.AssessmentRecord) *model.AssessmentRecord {
	c := *rec
	if rec.Video != nil {
		v := *rec.Video
		c.Video = &v
	}
	if rec.Form != nil {
		f := *rec.Form
		if rec.Form.Probability != nil {
			p := *rec.Form.Probability
			f.Probability = &p
		}
		c.Form = &f
	}
	if rec.EyeGaze != nil {
		g := *rec.EyeGaze
		c.EyeGaze = &g
	}
	return &c
}
