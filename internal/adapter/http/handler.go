package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/neomorfeo/bookiq/internal/app"
	"github.com/neomorfeo/bookiq/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// JobResponse is the API representation of a queued job.
type JobResponse struct {
	ID            string          `json:"id" doc:"Unique identifier"`
	TenantID      string          `json:"tenant_id" doc:"Owning tenant"`
	Type          string          `json:"type" doc:"Job type discriminator"`
	Payload       json.RawMessage `json:"payload,omitempty" doc:"Type-specific arguments"`
	Priority      int             `json:"priority" doc:"Claim priority (higher first)"`
	RunAt         string          `json:"run_at" doc:"Earliest execution time (ISO 8601)"`
	Status        string          `json:"status" doc:"Lifecycle state"`
	Attempts      int             `json:"attempts" doc:"Execution attempts so far"`
	MaxAttempts   int             `json:"max_attempts" doc:"Retry ceiling"`
	SourceEvent   string          `json:"source_event,omitempty" doc:"Domain event that caused this job"`
	CorrelationID string          `json:"correlation_id,omitempty" doc:"Entity the job acts on"`
	LastError     string          `json:"last_error,omitempty" doc:"Most recent failure message"`
	CreatedAt     string          `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt     string          `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toJobResponse(j domain.Job) JobResponse {
	return JobResponse{
		ID:            j.ID,
		TenantID:      j.TenantID,
		Type:          j.Type,
		Payload:       j.Payload,
		Priority:      j.Priority,
		RunAt:         j.RunAt.Format(timeFormat),
		Status:        string(j.Status),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		SourceEvent:   j.SourceEvent,
		CorrelationID: j.CorrelationID,
		LastError:     j.LastError,
		CreatedAt:     j.CreatedAt.Format(timeFormat),
		UpdatedAt:     j.UpdatedAt.Format(timeFormat),
	}
}

func toJobResponses(jobs []domain.Job) []JobResponse {
	resp := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		resp[i] = toJobResponse(j)
	}
	return resp
}

// PolicyRuleResponse is the API representation of a policy rule.
type PolicyRuleResponse struct {
	ID         string         `json:"id" doc:"Unique identifier"`
	TenantID   string         `json:"tenant_id,omitempty" doc:"Owning tenant (empty for global defaults)"`
	Action     string         `json:"action" doc:"Gated action name"`
	Effect     string         `json:"effect" doc:"allow or deny"`
	Conditions map[string]any `json:"conditions,omitempty" doc:"Context predicates"`
	Priority   int            `json:"priority" doc:"Evaluation priority (higher wins)"`
	IsActive   bool           `json:"is_active" doc:"Whether the rule is evaluated"`
	CreatedAt  string         `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt  string         `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toPolicyRuleResponse(r domain.PolicyRule) PolicyRuleResponse {
	return PolicyRuleResponse{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Action:     r.Action,
		Effect:     string(r.Effect),
		Conditions: r.Conditions,
		Priority:   r.Priority,
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt.Format(timeFormat),
		UpdatedAt:  r.UpdatedAt.Format(timeFormat),
	}
}

// AuditEntryResponse is the API representation of an audit trail entry.
type AuditEntryResponse struct {
	ID         string         `json:"id" doc:"Unique identifier"`
	TenantID   string         `json:"tenant_id" doc:"Owning tenant"`
	EventType  string         `json:"event_type" doc:"What happened"`
	EntityType string         `json:"entity_type,omitempty" doc:"Kind of entity acted on"`
	EntityID   string         `json:"entity_id,omitempty" doc:"Entity acted on"`
	Actor      string         `json:"actor" doc:"Who or what acted"`
	Payload    map[string]any `json:"payload,omitempty" doc:"Redacted event details"`
	CreatedAt  string         `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
}

func toAuditEntryResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:         e.ID,
		TenantID:   e.TenantID,
		EventType:  e.EventType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Actor:      e.Actor,
		Payload:    e.Payload,
		CreatedAt:  e.CreatedAt.Format(timeFormat),
	}
}

// EventResponse is the API representation of a recently published event.
type EventResponse struct {
	Name       string `json:"name" doc:"Event name"`
	TenantID   string `json:"tenant_id" doc:"Owning tenant"`
	OccurredAt string `json:"occurred_at" doc:"Publication timestamp (ISO 8601)"`
}

// --- Status ---

type StatusOutput struct {
	Body app.RunnerStatus
}

// --- List Jobs ---

type ListJobsInput struct {
	TenantID string `query:"tenant_id" doc:"Tenant to list jobs for"`
	Status   string `query:"status" required:"false" doc:"Filter by status" enum:"pending,claimed,completed,failed,cancelled"`
	Type     string `query:"type" required:"false" doc:"Filter by job type"`
	Limit    int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset   int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListJobsOutput struct {
	Body []JobResponse
}

// --- Get Job ---

type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

type GetJobOutput struct {
	Body JobResponse
}

// --- Job Stats ---

type JobStatsInput struct {
	TenantID string `query:"tenant_id" doc:"Tenant to count jobs for"`
}

type JobStatsOutput struct {
	Body map[string]int
}

// --- Upcoming Jobs ---

type UpcomingJobsInput struct {
	Limit int `query:"limit" required:"false" default:"20" doc:"Max results"`
}

type UpcomingJobsOutput struct {
	Body []JobResponse
}

// --- Cancel / Retry Job ---

type JobActionInput struct {
	ID string `path:"id" doc:"Job ID"`
}

type JobActionOutput struct {
	Body JobResponse
}

// --- List Policies ---

type ListPoliciesInput struct {
	TenantID string `query:"tenant_id" required:"false" doc:"Tenant scope (empty lists all rules)"`
}

type ListPoliciesOutput struct {
	Body []PolicyRuleResponse
}

// --- Upsert Policy ---

type UpsertPolicyInput struct {
	Body struct {
		ID         string         `json:"id,omitempty" doc:"Rule ID (generated when empty)"`
		TenantID   string         `json:"tenant_id,omitempty" doc:"Owning tenant (empty for a global default)"`
		Action     string         `json:"action" minLength:"1" doc:"Gated action name"`
		Effect     string         `json:"effect" enum:"allow,deny" doc:"allow or deny"`
		Conditions map[string]any `json:"conditions,omitempty" doc:"Context predicates"`
		Priority   int            `json:"priority,omitempty" doc:"Evaluation priority (higher wins)"`
		IsActive   bool           `json:"is_active" doc:"Whether the rule is evaluated"`
	}
}

type UpsertPolicyOutput struct {
	Body PolicyRuleResponse
}

// --- Availability ---

type BusyRangesInput struct {
	TenantID string `query:"tenant_id" doc:"Tenant to query"`
	From     string `query:"from" doc:"Window start (ISO 8601)" format:"date-time"`
	To       string `query:"to" doc:"Window end (ISO 8601)" format:"date-time"`
}

type BusyRangeResponse struct {
	Start string `json:"start" doc:"Interval start (ISO 8601)"`
	End   string `json:"end" doc:"Interval end (ISO 8601)"`
}

type BusyRangesOutput struct {
	Body []BusyRangeResponse
}

// --- Recent Events ---

type RecentEventsOutput struct {
	Body []EventResponse
}

// --- Audit Trail ---

type ListAuditInput struct {
	TenantID string `query:"tenant_id" doc:"Tenant to list entries for"`
	Limit    int    `query:"limit" required:"false" default:"50" doc:"Max results"`
}

type ListAuditOutput struct {
	Body []AuditEntryResponse
}

// Services bundles everything the admin API surfaces.
type Services struct {
	Jobs         *app.JobAdminService
	Runner       *app.Runner
	Policies     domain.PolicyStore
	Audit        *app.AuditRecorder
	Bus          domain.EventBus
	Availability *app.AvailabilityService
	Clock        domain.Clock
}

// Register adds all admin API routes to the Huma API.
func Register(api huma.API, svc Services) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Runner status",
		Tags:        []string{"Status"},
	}, func(_ context.Context, _ *struct{}) (*StatusOutput, error) {
		return &StatusOutput{Body: svc.Runner.Status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs",
		Summary:     "List a tenant's jobs",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
		filter := domain.JobFilter{
			Type:   input.Type,
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Status != "" {
			s := domain.JobStatus(input.Status)
			filter.Status = &s
		}

		jobs, err := svc.Jobs.List(ctx, input.TenantID, filter)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ListJobsOutput{Body: toJobResponses(jobs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get a job by ID",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
		job, err := svc.Jobs.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetJobOutput{Body: toJobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/stats",
		Summary:     "Per-status job counts",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *JobStatsInput) (*JobStatsOutput, error) {
		counts, err := svc.Jobs.Stats(ctx, input.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}

		body := make(map[string]int, len(counts))
		for status, n := range counts {
			body[string(status)] = n
		}
		return &JobStatsOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upcoming-jobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/upcoming",
		Summary:     "Pending jobs in claim order",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *UpcomingJobsInput) (*UpcomingJobsOutput, error) {
		jobs, err := svc.Jobs.Upcoming(ctx, input.Limit)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &UpcomingJobsOutput{Body: toJobResponses(jobs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel a pending job",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *JobActionInput) (*JobActionOutput, error) {
		job, err := svc.Jobs.Cancel(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &JobActionOutput{Body: toJobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-job",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/retry",
		Summary:     "Re-open a failed job",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *JobActionInput) (*JobActionOutput, error) {
		job, err := svc.Jobs.Retry(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &JobActionOutput{Body: toJobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-policies",
		Method:      http.MethodGet,
		Path:        "/api/v1/policies",
		Summary:     "List policy rules",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *ListPoliciesInput) (*ListPoliciesOutput, error) {
		rules, err := svc.Policies.List(ctx, input.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]PolicyRuleResponse, len(rules))
		for i, r := range rules {
			resp[i] = toPolicyRuleResponse(r)
		}
		return &ListPoliciesOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-policy",
		Method:      http.MethodPut,
		Path:        "/api/v1/policies",
		Summary:     "Create or replace a policy rule",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *UpsertPolicyInput) (*UpsertPolicyOutput, error) {
		now := svc.Clock.Now()
		rule := domain.PolicyRule{
			ID:         input.Body.ID,
			TenantID:   input.Body.TenantID,
			Action:     input.Body.Action,
			Effect:     domain.Effect(input.Body.Effect),
			Conditions: input.Body.Conditions,
			Priority:   input.Body.Priority,
			IsActive:   input.Body.IsActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}

		if err := svc.Policies.Upsert(ctx, rule); err != nil {
			return nil, toHumaError(err)
		}
		return &UpsertPolicyOutput{Body: toPolicyRuleResponse(rule)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "busy-ranges",
		Method:      http.MethodGet,
		Path:        "/api/v1/availability",
		Summary:     "Busy calendar intervals in a window",
		Tags:        []string{"Availability"},
	}, func(ctx context.Context, input *BusyRangesInput) (*BusyRangesOutput, error) {
		from, err := time.Parse(time.RFC3339, input.From)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid from timestamp")
		}
		to, err := time.Parse(time.RFC3339, input.To)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid to timestamp")
		}

		ranges, err := svc.Availability.BusyRanges(ctx, input.TenantID, from, to)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]BusyRangeResponse, len(ranges))
		for i, r := range ranges {
			resp[i] = BusyRangeResponse{
				Start: time.UnixMilli(r.StartMs).UTC().Format(timeFormat),
				End:   time.UnixMilli(r.EndMs).UTC().Format(timeFormat),
			}
		}
		return &BusyRangesOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/events/recent",
		Summary:     "Recently published domain events",
		Tags:        []string{"Events"},
	}, func(_ context.Context, _ *struct{}) (*RecentEventsOutput, error) {
		events := svc.Bus.Recent()
		resp := make([]EventResponse, len(events))
		for i, e := range events {
			resp[i] = EventResponse{
				Name:       string(e.Name()),
				TenantID:   e.Tenant(),
				OccurredAt: e.OccurredAt().Format(timeFormat),
			}
		}
		return &RecentEventsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/api/v1/audit",
		Summary:     "List a tenant's audit trail",
		Tags:        []string{"Audit"},
	}, func(ctx context.Context, input *ListAuditInput) (*ListAuditOutput, error) {
		entries, err := svc.Audit.RecentEntries(ctx, input.TenantID, input.Limit)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]AuditEntryResponse, len(entries))
		for i, e := range entries {
			resp[i] = toAuditEntryResponse(e)
		}
		return &ListAuditOutput{Body: resp}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrJobNotFound) {
		return huma.Error404NotFound("job not found")
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
