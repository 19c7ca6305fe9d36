package app_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/neomorfeo/bookiq/internal/domain"
)

// memJobStore is an in-memory domain.JobStore with the same transition
// semantics as the SQLite adapter. Error fields inject failures.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job

	enqueueErr error
	cancelErr  error
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]domain.Job)}
}

func (s *memJobStore) Enqueue(ctx context.Context, j domain.Job) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *memJobStore) GetByID(ctx context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return j, nil
}

func (s *memJobStore) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runnable []domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobPending && !j.RunAt.After(now) {
			runnable = append(runnable, j)
		}
	}
	sort.Slice(runnable, func(i, k int) bool {
		if runnable[i].Priority != runnable[k].Priority {
			return runnable[i].Priority > runnable[k].Priority
		}
		if !runnable[i].RunAt.Equal(runnable[k].RunAt) {
			return runnable[i].RunAt.Before(runnable[k].RunAt)
		}
		// Tie-break on ID so map iteration order cannot reorder equal jobs;
		// the SQLite adapter yields ties in rowid (insertion) order.
		return runnable[i].ID < runnable[k].ID
	})
	if len(runnable) > limit {
		runnable = runnable[:limit]
	}

	for i := range runnable {
		j := runnable[i]
		j.Status = domain.JobClaimed
		t := now
		j.ClaimedAt = &t
		s.jobs[j.ID] = j
		runnable[i] = j
	}
	return runnable, nil
}

func (s *memJobStore) Complete(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.Status != domain.JobClaimed && j.Status != domain.JobCompleted {
		return &domain.TransitionError{Event: domain.JobEventComplete, Current: j.Status}
	}
	j.Status = domain.JobCompleted
	j.ClaimedAt = nil
	j.UpdatedAt = now
	s.jobs[id] = j
	return nil
}

func (s *memJobStore) Fail(ctx context.Context, id, errMsg string, now time.Time) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if j.Status != domain.JobClaimed {
		return j, nil
	}
	if j.Attempts < j.MaxAttempts {
		j.Attempts++
	}
	j.LastError = errMsg
	j.ClaimedAt = nil
	j.UpdatedAt = now
	if j.Attempts >= j.MaxAttempts {
		j.Status = domain.JobFailed
	} else {
		j.Status = domain.JobPending
		j.RunAt = now.Add(domain.RetryDelay(j.Attempts))
	}
	s.jobs[id] = j
	return j, nil
}

func (s *memJobStore) FailPermanently(ctx context.Context, id, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.Status = domain.JobFailed
	j.LastError = errMsg
	j.ClaimedAt = nil
	j.UpdatedAt = now
	s.jobs[id] = j
	return nil
}

func (s *memJobStore) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == domain.JobClaimed && j.ClaimedAt != nil && j.ClaimedAt.Before(claimedBefore) {
			j.Status = domain.JobPending
			j.ClaimedAt = nil
			j.UpdatedAt = now
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *memJobStore) CancelPending(ctx context.Context, tenantID, jobType, correlationID string, now time.Time) (int, error) {
	if s.cancelErr != nil {
		return 0, s.cancelErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.TenantID == tenantID && j.Type == jobType && j.CorrelationID == correlationID && j.Status == domain.JobPending {
			j.Status = domain.JobCancelled
			j.UpdatedAt = now
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *memJobStore) ExistsSince(ctx context.Context, tenantID, jobType, dedupeKey string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.TenantID == tenantID && j.Type == jobType && j.DedupeKey == dedupeKey &&
			j.Status != domain.JobCancelled && !j.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memJobStore) UpdateStatus(ctx context.Context, id string, from, to domain.JobStatus, runAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != from {
		return domain.ErrJobNotFound
	}
	j.Status = to
	j.RunAt = runAt
	j.ClaimedAt = nil
	j.UpdatedAt = now
	s.jobs[id] = j
	return nil
}

func (s *memJobStore) ListByTenant(ctx context.Context, tenantID string, filter domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *memJobStore) ListUpcoming(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].RunAt.Before(out[k].RunAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memJobStore) CountByStatus(ctx context.Context, tenantID string) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.JobStatus]int)
	for _, j := range s.jobs {
		if j.TenantID == tenantID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

// byType returns the tenant's jobs of one type, for assertions.
func (s *memJobStore) byType(jobType string) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

// memPolicyStore serves a fixed rule set.
type memPolicyStore struct {
	rules   []domain.PolicyRule
	listErr error
}

func (s *memPolicyStore) ListActive(ctx context.Context, action, tenantID string) ([]domain.PolicyRule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.PolicyRule
	for _, r := range s.rules {
		if r.Action == action && r.IsActive && (r.TenantID == tenantID || r.TenantID == "") {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memPolicyStore) List(ctx context.Context, tenantID string) ([]domain.PolicyRule, error) {
	return s.rules, nil
}

func (s *memPolicyStore) Upsert(ctx context.Context, rule domain.PolicyRule) error {
	s.rules = append(s.rules, rule)
	return nil
}

// memAuditStore records appended entries.
type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *memAuditStore) Append(ctx context.Context, e domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memAuditStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].TenantID == tenantID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *memAuditStore) byEventType(eventType string) []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memSessionStore serves fixed sessions.
type memSessionStore struct {
	sessions map[string]domain.Session
}

func (s *memSessionStore) CreateSession(ctx context.Context, sess domain.Session) error {
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memSessionStore) FindSessionByID(ctx context.Context, id string) (domain.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (s *memSessionStore) LinkCustomer(ctx context.Context, sessionID, customerID string) error {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.CustomerID = customerID
	s.sessions[sessionID] = sess
	return nil
}

// memAppointmentStore serves fixed appointments keyed by ID.
type memAppointmentStore struct {
	appointments map[string]domain.Appointment
	findErr      error
}

func newMemAppointmentStore() *memAppointmentStore {
	return &memAppointmentStore{appointments: make(map[string]domain.Appointment)}
}

func (s *memAppointmentStore) CreateAppointment(ctx context.Context, a domain.Appointment) error {
	s.appointments[a.ID] = a
	return nil
}

func (s *memAppointmentStore) FindAppointmentByID(ctx context.Context, id, tenantID string) (domain.Appointment, error) {
	if s.findErr != nil {
		return domain.Appointment{}, s.findErr
	}
	a, ok := s.appointments[id]
	if !ok || a.TenantID != tenantID {
		return domain.Appointment{}, domain.ErrAppointmentNotFound
	}
	return a, nil
}

// memWaitlistStore serves fixed entries.
type memWaitlistStore struct {
	entries  []domain.WaitlistEntry
	notified []string
}

func (s *memWaitlistStore) CreateWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *memWaitlistStore) FindWaiting(ctx context.Context, tenantID, service string, limit int) ([]domain.WaitlistEntry, error) {
	var out []domain.WaitlistEntry
	for _, e := range s.entries {
		if e.TenantID == tenantID && e.Service == service && e.Status == domain.WaitlistWaiting {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memWaitlistStore) MarkNotified(ctx context.Context, id string, now time.Time) error {
	for i, e := range s.entries {
		if e.ID == id {
			s.entries[i].Status = domain.WaitlistNotified
		}
	}
	s.notified = append(s.notified, id)
	return nil
}

// memOutboxStore counts aborts.
type memOutboxStore struct {
	messages []domain.OutboxMessage
	abortErr error
	aborted  int
}

func (s *memOutboxStore) EnqueueOutbox(ctx context.Context, m domain.OutboxMessage) error {
	s.messages = append(s.messages, m)
	return nil
}

func (s *memOutboxStore) AbortQueuedOutbox(ctx context.Context, tenantID, appointmentID string, now time.Time) (int, error) {
	if s.abortErr != nil {
		return 0, s.abortErr
	}
	n := 0
	for i, m := range s.messages {
		if m.TenantID == tenantID && m.AppointmentID == appointmentID && m.Status == domain.OutboxQueued {
			s.messages[i].Status = domain.OutboxAborted
			n++
		}
	}
	s.aborted += n
	return n, nil
}

// memHoldStore is an in-memory domain.HoldStore.
type memHoldStore struct {
	mu    sync.Mutex
	holds map[string]domain.AvailabilityHold
}

func newMemHoldStore() *memHoldStore {
	return &memHoldStore{holds: make(map[string]domain.AvailabilityHold)}
}

func (s *memHoldStore) Create(ctx context.Context, h domain.AvailabilityHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.holds {
		if existing.TenantID == h.TenantID &&
			existing.SlotStart.Before(h.SlotEnd) && existing.SlotEnd.After(h.SlotStart) &&
			existing.ExpiresAt.After(h.CreatedAt) {
			return &domain.SlotConflictError{TenantID: h.TenantID, SlotStart: h.SlotStart, SlotEnd: h.SlotEnd}
		}
	}
	s.holds[h.ID] = h
	return nil
}

func (s *memHoldStore) Delete(ctx context.Context, id, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[id]
	if !ok || h.TenantID != tenantID {
		return domain.ErrHoldNotFound
	}
	delete(s.holds, id)
	return nil
}

func (s *memHoldStore) DeleteExpired(ctx context.Context, now time.Time) ([]domain.AvailabilityHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []domain.AvailabilityHold
	for id, h := range s.holds {
		if h.Expired(now) {
			expired = append(expired, h)
			delete(s.holds, id)
		}
	}
	return expired, nil
}

// tableValidator applies domain.JobTransitions directly.
type tableValidator struct{}

func (tableValidator) Apply(ctx context.Context, current domain.JobStatus, event domain.JobEvent) (domain.JobStatus, error) {
	for _, t := range domain.JobTransitions {
		if t.Event == event && t.Src == current {
			return t.Dst, nil
		}
	}
	return "", &domain.TransitionError{Event: event, Current: current}
}

// fakeCalendar serves canned busy ranges and counts calls.
type fakeCalendar struct {
	ranges []domain.BusyRange
	err    error
	calls  int
}

func (f *fakeCalendar) FreeBusy(ctx context.Context, tenantID string, from, to time.Time) ([]domain.BusyRange, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ranges, nil
}

// Compile-time checks keep the mocks honest.
var (
	_ domain.JobStore         = (*memJobStore)(nil)
	_ domain.PolicyStore      = (*memPolicyStore)(nil)
	_ domain.AuditStore       = (*memAuditStore)(nil)
	_ domain.SessionStore     = (*memSessionStore)(nil)
	_ domain.AppointmentStore = (*memAppointmentStore)(nil)
	_ domain.WaitlistStore    = (*memWaitlistStore)(nil)
	_ domain.OutboxStore      = (*memOutboxStore)(nil)
	_ domain.HoldStore        = (*memHoldStore)(nil)
	_ domain.CalendarProvider = (*fakeCalendar)(nil)

	_ domain.TransitionValidator = tableValidator{}
)
