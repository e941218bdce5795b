package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// MemoryStore is an in-process Store with the same transition rules as
// PostgresStore. It backs unit tests and single-process development runs.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	jobs     map[uuid.UUID]*models.Job
	profiles map[string]map[string]*models.DimensionalProfile
	passages map[string]map[string]*models.Passage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     make(map[uuid.UUID]*models.Job),
		profiles: make(map[string]map[string]*models.DimensionalProfile),
		passages: make(map[string]map[string]*models.Passage),
	}
}

// SetClock replaces the time source used for updated_at and availability checks.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutJob stores job verbatim, bypassing transition checks.
func (s *MemoryStore) PutJob(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func copyJob(j *models.Job) *models.Job {
	c := *j
	if j.Result != nil {
		c.Result = append([]byte(nil), j.Result...)
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

// sortedJobs returns jobs in created_at, id order. Caller holds mu.
func (s *MemoryStore) sortedJobs() []*models.Job {
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].ID.String() < jobs[b].ID.String()
	})
	return jobs
}

func (s *MemoryStore) AdmitPending(context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ids []uuid.UUID
	for _, j := range s.sortedJobs() {
		if j.Status != models.JobStatusPending {
			continue
		}
		j.Status = models.JobStatusQueued
		j.UpdatedAt = now
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (s *MemoryStore) RecoverStale(_ context.Context, staleBefore time.Time, resetRetries bool) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var recovered []*models.Job
	for _, j := range s.sortedJobs() {
		if j.Status != models.JobStatusAnalyzing && j.Status != models.JobStatusFinalizing {
			continue
		}
		if !j.UpdatedAt.Before(staleBefore) {
			continue
		}
		j.Status = models.JobStatusQueued
		j.UpdatedAt = now
		j.AvailableAt = now
		j.ProgressText = RecoveredProgressText
		if resetRetries {
			j.RetryCount = 0
		}
		recovered = append(recovered, copyJob(j))
	}
	return recovered, nil
}

func (s *MemoryStore) ClaimNextJob(_ context.Context, p ClaimParams) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := p.Now
	if now.IsZero() {
		now = s.now()
	}
	for _, j := range s.sortedJobs() {
		queued := j.Status == models.JobStatusQueued && !j.AvailableAt.After(now)
		stale := j.Status == models.JobStatusAnalyzing && j.UpdatedAt.Before(p.StaleBefore)
		if !queued && !stale {
			continue
		}
		j.Status = models.JobStatusAnalyzing
		j.UpdatedAt = now
		j.ProgressText = ""
		if stale {
			j.ProgressText = RecoveredProgressText
			if p.ResetRetriesOnRecovery {
				j.RetryCount = 0
			}
		}
		return &Claim{Job: copyJob(j), Recovered: stale}, nil
	}
	return nil, ErrNoJobAvailable
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) error {
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}

	j.Status = status
	j.UpdatedAt = s.now()
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.Error = &msg
	} else if params.ClearError {
		j.Error = nil
	}
	if params.Result != nil {
		j.Result = append([]byte(nil), params.Result...)
	}
	if params.RetryCount != nil {
		j.RetryCount = *params.RetryCount
	}
	if params.AvailableAt != nil {
		j.AvailableAt = *params.AvailableAt
	}
	if params.Progress != nil {
		j.ProgressText = *params.Progress
	}
	return nil
}

func (s *MemoryStore) UpdateJobProgress(_ context.Context, id uuid.UUID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || (j.Status != models.JobStatusAnalyzing && j.Status != models.JobStatusFinalizing) {
		return ErrNotFound
	}
	j.ProgressText = text
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RetryFailedJob(_ context.Context, id uuid.UUID, maxRetries int) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != models.JobStatusFailed || j.RetryCount >= maxRetries {
		return nil, retryRejection(j, maxRetries)
	}
	now := s.now()
	j.Status = models.JobStatusQueued
	j.RetryCount++
	j.Error = nil
	j.ProgressText = ""
	j.Result = nil
	j.AvailableAt = now
	j.UpdatedAt = now
	return copyJob(j), nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p *models.DimensionalProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	set, ok := s.profiles[p.AdvisorID]
	if !ok {
		set = make(map[string]*models.DimensionalProfile)
		s.profiles[p.AdvisorID] = set
	}
	c := *p
	if p.Scores != nil {
		v := *p.Scores
		c.Scores = &v
	}
	c.CreatedAt = now
	if prev, ok := set[p.ImageRef]; ok {
		c.CreatedAt = prev.CreatedAt
	}
	c.UpdatedAt = now
	set[p.ImageRef] = &c
	return nil
}

func (s *MemoryStore) ListProfiles(_ context.Context, advisorID string) ([]*models.DimensionalProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.DimensionalProfile, 0, len(s.profiles[advisorID]))
	for _, p := range s.profiles[advisorID] {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].UpdatedAt.Equal(out[b].UpdatedAt) {
			return out[a].UpdatedAt.After(out[b].UpdatedAt)
		}
		return out[a].ImageRef < out[b].ImageRef
	})
	return out, nil
}

func (s *MemoryStore) DeleteProfiles(_ context.Context, advisorID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.profiles[advisorID]))
	delete(s.profiles, advisorID)
	return n, nil
}

func (s *MemoryStore) UpsertPassage(_ context.Context, p *models.Passage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.passages[p.AdvisorID]
	if !ok {
		set = make(map[string]*models.Passage)
		s.passages[p.AdvisorID] = set
	}
	c := *p
	if prev, ok := set[p.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = s.now()
	}
	set[p.ID] = &c
	return nil
}

func (s *MemoryStore) TopPassages(_ context.Context, advisorID string, n int) ([]*models.Passage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Passage, 0, len(s.passages[advisorID]))
	for _, p := range s.passages[advisorID] {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Weight != out[b].Weight {
			return out[a].Weight > out[b].Weight
		}
		return out[a].ID < out[b].ID
	})
	if n < 0 {
		n = 0
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
