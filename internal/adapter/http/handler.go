package http

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/customeriq/internal/app"
	"github.com/neomorfeo/customeriq/internal/domain"
)

const timeLayout = time.RFC3339Nano

// CustomerResponse is the API representation of a customer.
type CustomerResponse struct {
	ID             string `json:"id" doc:"Unique identifier"`
	Name           string `json:"name" doc:"Display name"`
	Category       string `json:"category,omitempty" doc:"Category used for per-category counters"`
	State          string `json:"state" doc:"Lifecycle state"`
	Version        int64  `json:"version" doc:"Incremented on every accepted transition"`
	StateChangedAt string `json:"state_changed_at" doc:"Time of the last state change (RFC 3339)"`
	CreatedAt      string `json:"created_at" doc:"Creation timestamp (RFC 3339)"`
	UpdatedAt      string `json:"updated_at" doc:"Last update timestamp (RFC 3339)"`
	DeletedAt      string `json:"deleted_at,omitempty" doc:"Soft-delete timestamp (RFC 3339)"`
}

func toCustomerResponse(c domain.Customer) CustomerResponse {
	resp := CustomerResponse{
		ID:             c.ID,
		Name:           c.Name,
		Category:       c.Category,
		State:          string(c.State),
		Version:        c.Version,
		StateChangedAt: c.StateChangedAt.Format(timeLayout),
		CreatedAt:      c.CreatedAt.Format(timeLayout),
		UpdatedAt:      c.UpdatedAt.Format(timeLayout),
	}
	if c.DeletedAt != nil {
		resp.DeletedAt = c.DeletedAt.Format(timeLayout)
	}
	return resp
}

// TransitionRecordResponse is one entry of a customer's history.
type TransitionRecordResponse struct {
	Seq        int64  `json:"seq" doc:"Commit order across all customers"`
	From       string `json:"from,omitempty" doc:"Previous state; empty for a creation record"`
	To         string `json:"to" doc:"New state"`
	Reason     string `json:"reason,omitempty" doc:"Caller-supplied reason"`
	OccurredAt string `json:"occurred_at" doc:"Commit time (RFC 3339)"`
	Period     string `json:"period,omitempty" doc:"Counter period, set when the target state is counted"`
}

func toRecordResponse(r domain.TransitionRecord) TransitionRecordResponse {
	resp := TransitionRecordResponse{
		Seq:        r.Seq,
		To:         string(r.To),
		Reason:     r.Reason,
		OccurredAt: r.OccurredAt.Format(timeLayout),
		Period:     r.Period,
	}
	if r.From != nil {
		resp.From = string(*r.From)
	}
	return resp
}

// CounterResponse is one aggregate bucket.
type CounterResponse struct {
	Period   string `json:"period" doc:"Counter period"`
	Category string `json:"category,omitempty" doc:"Category; empty for the all-categories bucket"`
	Count    int64  `json:"count" doc:"Number of counted transitions"`
}

func toCounterResponses(buckets []domain.CounterBucket) []CounterResponse {
	resp := make([]CounterResponse, len(buckets))
	for i, b := range buckets {
		resp[i] = CounterResponse{Period: b.Key.Period, Category: b.Key.Category, Count: b.Count}
	}
	return resp
}

// --- Create Customer ---

type CreateCustomerInput struct {
	Body struct {
		Name     string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
		Category string `json:"category,omitempty" maxLength:"100" doc:"Optional category"`
	}
}

type CreateCustomerOutput struct {
	Body CustomerResponse
}

// --- Get Customer ---

type GetCustomerInput struct {
	ID             string `path:"id" doc:"Customer ID"`
	IncludeDeleted bool   `query:"include_deleted" required:"false" doc:"Also return soft-deleted customers"`
}

type GetCustomerOutput struct {
	Body CustomerResponse
}

// --- Delete Customer ---

type DeleteCustomerInput struct {
	ID string `path:"id" doc:"Customer ID"`
}

// --- Transition ---

type TransitionInput struct {
	ID             string `path:"id" doc:"Customer ID"`
	IncludeDeleted bool   `query:"include_deleted" required:"false" doc:"Allow transitioning a soft-deleted customer"`
	Body           struct {
		Target    string     `json:"target" minLength:"1" doc:"State to move the customer to"`
		Reason    string     `json:"reason,omitempty" maxLength:"1000" doc:"Why the transition happens"`
		CountedAt *time.Time `json:"counted_at,omitempty" doc:"Date that selects the counter period; defaults to now"`
	}
}

type TransitionOutput struct {
	Body struct {
		Customer         CustomerResponse          `json:"customer"`
		Changed          bool                      `json:"changed" doc:"False when the customer already was in the target state"`
		Record           *TransitionRecordResponse `json:"record,omitempty"`
		Counters         []CounterResponse         `json:"counters,omitempty" doc:"Values of the buckets this transition incremented"`
		CountersDegraded bool                      `json:"counters_degraded" doc:"Some counter increments failed and will be reconciled"`
	}
}

// --- History ---

type HistoryInput struct {
	ID string `path:"id" doc:"Customer ID"`
}

type HistoryOutput struct {
	Body []TransitionRecordResponse
}

// --- Targets ---

type TargetsInput struct {
	ID string `path:"id" doc:"Customer ID"`
}

type TargetsOutput struct {
	Body struct {
		State   string   `json:"state" doc:"Current state"`
		Targets []string `json:"targets" doc:"States the customer may move to"`
	}
}

// --- Counters ---

type CountersInput struct {
	Start string `query:"start" required:"true" doc:"First period, inclusive"`
	End   string `query:"end" required:"true" doc:"Last period, inclusive"`
}

type CountersOutput struct {
	Body []CounterResponse
}

// Register adds all customer API routes to the Huma API.
func Register(api huma.API, svc *app.LifecycleService) {
	huma.Register(api, huma.Operation{
		OperationID: "create-customer",
		Method:      http.MethodPost,
		Path:        "/api/v1/customers",
		Summary:     "Create a customer in the initial state",
		Tags:        []string{"Customers"},
	}, func(ctx context.Context, input *CreateCustomerInput) (*CreateCustomerOutput, error) {
		customer, err := svc.Create(ctx, input.Body.Name, input.Body.Category)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateCustomerOutput{Body: toCustomerResponse(customer)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-customer",
		Method:      http.MethodGet,
		Path:        "/api/v1/customers/{id}",
		Summary:     "Get a customer by ID",
		Tags:        []string{"Customers"},
	}, func(ctx context.Context, input *GetCustomerInput) (*GetCustomerOutput, error) {
		customer, err := svc.Get(ctx, input.ID, input.IncludeDeleted)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetCustomerOutput{Body: toCustomerResponse(customer)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-customer",
		Method:        http.MethodDelete,
		Path:          "/api/v1/customers/{id}",
		Summary:       "Soft-delete a customer, keeping its history",
		Tags:          []string{"Customers"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *DeleteCustomerInput) (*struct{}, error) {
		if err := svc.SoftDelete(ctx, input.ID); err != nil {
			return nil, toHumaError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-customer",
		Method:      http.MethodPost,
		Path:        "/api/v1/customers/{id}/transitions",
		Summary:     "Move a customer to another state",
		Tags:        []string{"Customers"},
	}, func(ctx context.Context, input *TransitionInput) (*TransitionOutput, error) {
		result, err := svc.Transition(ctx, app.TransitionRequest{
			CustomerID:     input.ID,
			Target:         domain.State(input.Body.Target),
			Reason:         input.Body.Reason,
			CountedAt:      input.Body.CountedAt,
			IncludeDeleted: input.IncludeDeleted,
		})

		var degraded *domain.CounterDegradedError
		if err != nil && !errors.As(err, &degraded) {
			return nil, toHumaError(err)
		}

		out := &TransitionOutput{}
		out.Body.Customer = toCustomerResponse(result.Customer)
		out.Body.Changed = result.Changed
		out.Body.CountersDegraded = degraded != nil
		if result.Record != nil {
			rec := toRecordResponse(*result.Record)
			out.Body.Record = &rec
		}
		for key, n := range result.Counts {
			out.Body.Counters = append(out.Body.Counters, CounterResponse{Period: key.Period, Category: key.Category, Count: n})
		}
		slices.SortFunc(out.Body.Counters, func(a, b CounterResponse) int {
			return cmp.Or(cmp.Compare(a.Period, b.Period), cmp.Compare(a.Category, b.Category))
		})
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "customer-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/customers/{id}/history",
		Summary:     "List a customer's transitions, most recent first",
		Tags:        []string{"Customers"},
	}, func(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
		records, err := svc.History(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]TransitionRecordResponse, len(records))
		for i, r := range records {
			resp[i] = toRecordResponse(r)
		}
		return &HistoryOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "customer-targets",
		Method:      http.MethodGet,
		Path:        "/api/v1/customers/{id}/targets",
		Summary:     "List the states a customer may move to",
		Tags:        []string{"Customers"},
	}, func(ctx context.Context, input *TargetsInput) (*TargetsOutput, error) {
		state, targets, err := svc.CurrentTargets(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &TargetsOutput{}
		out.Body.State = string(state)
		out.Body.Targets = statesToStrings(targets)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-counters",
		Method:      http.MethodGet,
		Path:        "/api/v1/counters",
		Summary:     "List aggregate counters for a period range",
		Tags:        []string{"Counters"},
	}, func(ctx context.Context, input *CountersInput) (*CountersOutput, error) {
		buckets, err := svc.Counters(ctx, input.Start, input.End)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CountersOutput{Body: toCounterResponses(buckets)}, nil
	})
}

func statesToStrings(states []domain.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrCustomerNotFound) {
		return huma.Error404NotFound("customer not found")
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error(), &huma.ErrorDetail{
			Location: "body.target",
			Message:  "valid targets",
			Value:    statesToStrings(trErr.ValidTargets),
		})
	}

	switch {
	case errors.Is(err, domain.ErrCustomerExists):
		return huma.Error409Conflict("customer already exists")
	case errors.Is(err, domain.ErrConflict):
		return huma.Error409Conflict("customer was modified concurrently, retry the request")
	case errors.Is(err, domain.ErrInvalidPeriodRange):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("storage unavailable")
	}

	return huma.Error500InternalServerError("internal server error")
}
