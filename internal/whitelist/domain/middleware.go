package domain

import (
	"context"
	"log/slog"
	"time"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	Submit(ctx context.Context, req SubmitRequest) (*Entry, error)
	Get(ctx context.Context, address string) (*Entry, error)
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)
	GetThreshold(ctx context.Context) (*Threshold, error)
	UpdateThreshold(ctx context.Context, value string) (*Threshold, error)
}

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(loggingService) *loggingMiddleware {
	return func(next loggingService) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   loggingService
	logger *slog.Logger
}

func (m *loggingMiddleware) Submit(ctx context.Context, req SubmitRequest) (*Entry, error) {
	start := time.Now()
	entry, err := m.next.Submit(ctx, req)
	state := ""
	if entry != nil {
		state = entry.State
	}
	m.logger.Info("Submit",
		"address", req.Address,
		"state", state,
		"duration", time.Since(start),
		"error", err,
	)
	return entry, err
}

func (m *loggingMiddleware) Get(ctx context.Context, address string) (*Entry, error) {
	start := time.Now()
	entry, err := m.next.Get(ctx, address)
	m.logger.Debug("Get",
		"address", address,
		"duration", time.Since(start),
		"error", err,
	)
	return entry, err
}

func (m *loggingMiddleware) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	start := time.Now()
	result, err := m.next.List(ctx, filter, pagination)
	m.logger.Debug("List",
		"filter", filter,
		"limit", pagination.Limit,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) GetThreshold(ctx context.Context) (*Threshold, error) {
	start := time.Now()
	threshold, err := m.next.GetThreshold(ctx)
	m.logger.Debug("GetThreshold",
		"duration", time.Since(start),
		"error", err,
	)
	return threshold, err
}

func (m *loggingMiddleware) UpdateThreshold(ctx context.Context, value string) (*Threshold, error) {
	start := time.Now()
	threshold, err := m.next.UpdateThreshold(ctx, value)
	m.logger.Info("UpdateThreshold",
		"value", value,
		"duration", time.Since(start),
		"error", err,
	)
	return threshold, err
}
