package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/installment-engine/billing"
	"github.com/warp/installment-engine/generic"
)

// Repository is the slice of billing.Store that reporting reads.
type Repository interface {
	GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error)
	FindByDueDateRange(ctx context.Context, start, end generic.TimePoint) ([]billing.Payment, error)
	FindByClientAndDueDateRange(ctx context.Context, clientID billing.ClientID, start, end generic.TimePoint) ([]billing.Payment, error)
}

// Request selects payments due within [Start, End], optionally for one client.
type Request struct {
	Start    generic.TimePoint
	End      generic.TimePoint
	ClientID *billing.ClientID
}

func (r Request) period() (generic.Period, error) {
	return generic.NewPeriod(r.Start, r.End)
}

// Service generates reports from a Repository, with an optional cache.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService wires a report service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger.With("component", "report")}
}

// Generate builds the report for req. A missing client is returned as
// generic.ErrClientNotFound; an inverted period as generic.ErrInvalidPeriod.
func (s *Service) Generate(ctx context.Context, req Request) (Report, error) {
	if _, err := req.period(); err != nil {
		return Report{}, err
	}

	key, err := s.cache.BuildKey(ctx, cacheParts(req)...)
	if err != nil {
		s.logger.Warn("report cache unavailable", "error", err)
		return s.build(ctx, req)
	}

	var buildErr error
	r, err := s.cache.Fetch(ctx, key, func(ctx context.Context) (Report, error) {
		r, err := s.build(ctx, req)
		buildErr = err
		return r, err
	})
	if err != nil && buildErr == nil {
		s.logger.Warn("report cache unavailable", "error", err)
		return s.build(ctx, req)
	}
	return r, err
}

// Payments returns the report together with the payments it was built from
// (spreadsheet export). It bypasses the cache.
func (s *Service) Payments(ctx context.Context, req Request) (Report, []billing.Payment, error) {
	period, err := req.period()
	if err != nil {
		return Report{}, nil, err
	}
	label, err := s.label(ctx, req)
	if err != nil {
		return Report{}, nil, err
	}
	payments, err := s.load(ctx, req)
	if err != nil {
		return Report{}, nil, err
	}
	r, err := Build(payments, period, req.ClientID, label)
	return r, payments, err
}

// Invalidate drops every cached report. Called after payment writes.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) build(ctx context.Context, req Request) (Report, error) {
	r, _, err := s.Payments(ctx, req)
	return r, err
}

func (s *Service) label(ctx context.Context, req Request) (string, error) {
	if req.ClientID == nil {
		return AllClientsLabel, nil
	}
	client, err := s.repo.GetClient(ctx, *req.ClientID)
	if err != nil {
		return "", err
	}
	return client.Name, nil
}

func (s *Service) load(ctx context.Context, req Request) ([]billing.Payment, error) {
	var (
		payments []billing.Payment
		err      error
	)
	if req.ClientID != nil {
		payments, err = s.repo.FindByClientAndDueDateRange(ctx, *req.ClientID, req.Start, req.End)
	} else {
		payments, err = s.repo.FindByDueDateRange(ctx, req.Start, req.End)
	}
	if err != nil {
		return nil, fmt.Errorf("load payments for %s: %w", generic.Period{Start: req.Start, End: req.End}, err)
	}
	return payments, nil
}

func cacheParts(req Request) []string {
	client := "all"
	if req.ClientID != nil {
		client = string(*req.ClientID)
	}
	return []string{client, req.Start.String(), req.End.String()}
}
