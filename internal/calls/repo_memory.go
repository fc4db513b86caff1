package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]*CallRecord // keyed by correlation id

	// InsertErr, when set, makes Insert fail. Used to exercise the
	// orphaned-call degraded mode.
	InsertErr error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]*CallRecord)}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return CallRecord{}, r.InsertErr
	}
	if _, ok := r.records[rec.CorrelationID]; ok {
		return CallRecord{}, ErrDuplicateCorrelation
	}
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cp := rec
	r.records[rec.CorrelationID] = &cp
	return rec, nil
}

func (r *MemoryRepo) SetExtension(ctx context.Context, correlationID, extension string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[correlationID]; ok {
		rec.Extension = extension
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepo) MarkAnswered(ctx context.Context, correlationID string, answeredAt time.Time, extension string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[correlationID]; ok {
		rec.Status = StatusAnswered
		at := answeredAt
		rec.AnsweredAt = &at
		if extension != "" {
			rec.Extension = extension
		}
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepo) Finish(ctx context.Context, correlationID string, status Status, durationSeconds int, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[correlationID]; ok {
		rec.Status = status
		rec.DurationSeconds = durationSeconds
		at := endedAt
		rec.EndedAt = &at
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, correlationID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[correlationID]; ok {
		rec.Status = status
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, limit int) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the record for a correlation id, for test assertions.
func (r *MemoryRepo) Get(correlationID string) (CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[correlationID]
	if !ok {
		return CallRecord{}, false
	}
	return *rec, true
}
