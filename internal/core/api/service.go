// Package api exposes predicate validation and rule resolution over gRPC
// and HTTP. Service holds the transport-independent request handling; the
// gRPC and HTTP adapters only translate wire formats and error codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/commissiontracker/underwriter/internal/core/auth"
	"github.com/commissiontracker/underwriter/internal/metrics"
	"github.com/commissiontracker/underwriter/internal/rules"
	"github.com/commissiontracker/underwriter/internal/types"
)

// RuleSetSource selects the rule sets applicable to an application.
type RuleSetSource interface {
	ListApplicable(ctx context.Context, carrierID, productID string, conditionCodes []string) ([]types.RuleSet, error)
}

// Service implements the underwriting API.
type Service struct {
	engine   *rules.Engine
	fields   rules.FieldResolver
	source   RuleSetSource
	fallback types.Outcome
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService creates a service. source may be nil, in which case every
// resolve request must carry its rule sets inline.
func NewService(engine *rules.Engine, fields rules.FieldResolver, source RuleSetSource, fallback types.Outcome, m *metrics.Metrics, logger *zap.Logger) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if fields == nil {
		return nil, fmt.Errorf("fields cannot be nil")
	}
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("fallback outcome: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:   engine,
		fields:   fields,
		source:   source,
		fallback: fallback,
		metrics:  m,
		logger:   logger,
	}, nil
}

// ValidateRequest carries a predicate document in wire form.
type ValidateRequest struct {
	Predicate json.RawMessage `json:"predicate"`
}

// ValidationIssue is one validation failure in a response.
type ValidationIssue struct {
	Path    string `json:"path"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidateResponse reports whether a predicate may be stored.
type ValidateResponse struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidatePredicate decodes and validates a predicate against the registry.
// An invalid predicate is a successful call with Valid false.
func (s *Service) ValidatePredicate(ctx context.Context, req *ValidateRequest) (*ValidateResponse, error) {
	if req == nil || len(req.Predicate) == 0 {
		return nil, fmt.Errorf("%w: predicate is required", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p types.Predicate
	if err := json.Unmarshal(req.Predicate, &p); err != nil {
		s.metrics.IncrementValidation("malformed")
		return &ValidateResponse{
			Errors: []ValidationIssue{{Path: "/", Code: issueCode(err), Message: err.Error()}},
		}, nil
	}

	if err := rules.Validate(p, s.fields); err != nil {
		var verrs types.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		s.metrics.IncrementValidation("invalid")
		return &ValidateResponse{Errors: issues(verrs)}, nil
	}

	s.metrics.IncrementValidation("valid")
	return &ValidateResponse{Valid: true}, nil
}

func issues(verrs types.ValidationErrors) []ValidationIssue {
	out := make([]ValidationIssue, 0, len(verrs))
	for _, ve := range verrs {
		out = append(out, ValidationIssue{
			Path:    ve.Path,
			Field:   ve.Field,
			Code:    issueCode(ve.Err),
			Message: ve.Error(),
		})
	}
	return out
}

// ResolveRequest asks for the outcome of an application. When RuleSets is
// nil the applicable sets are looked up by carrier, product and the
// conditions declared in Facts. An authenticated caller may only look up
// its own tenant's rule sets; CarrierID defaults to that tenant.
type ResolveRequest struct {
	CarrierID      string          `json:"carrier_id,omitempty"`
	ProductID      string          `json:"product_id,omitempty"`
	Facts          types.FactSet   `json:"facts"`
	RuleSets       []types.RuleSet `json:"rule_sets,omitempty"`
	DefaultOutcome *types.Outcome  `json:"default_outcome,omitempty"`
}

// ResolveResponse is the resolved outcome with its audit trail.
type ResolveResponse struct {
	Outcome   types.Outcome       `json:"outcome"`
	Default   bool                `json:"default"`
	Policy    rules.Policy        `json:"policy"`
	Matched   []rules.MatchedRule `json:"matched,omitempty"`
	Skipped   []rules.SkippedRule `json:"skipped,omitempty"`
	Evaluated int                 `json:"evaluated"`
	RuleSets  int                 `json:"rule_sets"`
	FactsHash string              `json:"facts_hash"`
}

// Resolve runs the engine over the request's rule sets.
func (s *Service) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	facts := req.Facts
	if facts == nil {
		facts = types.FactSet{}
	}

	fallback := s.fallback
	if req.DefaultOutcome != nil {
		if err := req.DefaultOutcome.Validate(); err != nil {
			return nil, fmt.Errorf("%w: default_outcome: %v", ErrInvalidRequest, err)
		}
		fallback = *req.DefaultOutcome
	}

	sets := req.RuleSets
	if sets == nil {
		var err error
		if sets, err = s.lookup(ctx, req, facts); err != nil {
			return nil, err
		}
	}

	hash, err := rules.FactSetHash(facts)
	if err != nil {
		return nil, fmt.Errorf("%w: facts: %v", ErrInvalidRequest, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	res := s.engine.ResolveDetailed(sets, facts, fallback)
	s.logger.Debug("resolved",
		zap.String("carrier_id", req.CarrierID),
		zap.String("facts_hash", hash),
		zap.Int("rule_sets", len(sets)),
		zap.Int("evaluated", res.Evaluated),
		zap.Int("skipped", len(res.Skipped)),
		zap.Bool("default", res.Default),
		zap.String("eligibility", string(res.Outcome.Eligibility)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &ResolveResponse{
		Outcome:   res.Outcome,
		Default:   res.Default,
		Policy:    s.engine.Policy(),
		Matched:   res.Matched,
		Skipped:   res.Skipped,
		Evaluated: res.Evaluated,
		RuleSets:  len(sets),
		FactsHash: hash,
	}, nil
}

func (s *Service) lookup(ctx context.Context, req *ResolveRequest, facts types.FactSet) ([]types.RuleSet, error) {
	carrier, err := carrierFor(ctx, req.CarrierID)
	if err != nil {
		return nil, err
	}
	if carrier == "" {
		return nil, fmt.Errorf("%w: carrier_id or rule_sets is required", ErrInvalidRequest)
	}
	if s.source == nil {
		return nil, fmt.Errorf("%w: no rule store configured, send rule_sets inline", ErrInvalidRequest)
	}
	sets, err := s.source.ListApplicable(ctx, carrier, req.ProductID, rules.DeclaredConditions(facts))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sets, nil
}

// carrierFor scopes a stored rule lookup to the authenticated tenant.
func carrierFor(ctx context.Context, requested string) (string, error) {
	tenant := auth.TenantIDFromContext(ctx)
	switch {
	case tenant == "" || requested == tenant:
		return requested, nil
	case requested == "":
		return tenant, nil
	default:
		return "", fmt.Errorf("%w: tenant %s cannot read rule sets of carrier %s", ErrPermissionDenied, tenant, requested)
	}
}
