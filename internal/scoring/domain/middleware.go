package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/trustgate/internal/circuit"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	Evaluate(ctx context.Context, req EvaluateRequest) (*Attestation, error)
	EvaluateMetrics(ctx context.Context, req EvaluateRequest, m circuit.RawMetrics) (*Attestation, error)
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

func (m *loggingMiddleware) Evaluate(ctx context.Context, req EvaluateRequest) (*Attestation, error) {
	start := time.Now()
	attestation, err := m.next.Evaluate(ctx, req)
	m.logger.Info("Evaluate",
		"address", req.Address,
		"epoch", req.Epoch,
		"duration", time.Since(start),
		"error", err,
	)
	return attestation, err
}

func (m *loggingMiddleware) EvaluateMetrics(ctx context.Context, req EvaluateRequest, metrics circuit.RawMetrics) (*Attestation, error) {
	start := time.Now()
	attestation, err := m.next.EvaluateMetrics(ctx, req, metrics)
	m.logger.Info("EvaluateMetrics",
		"address", req.Address,
		"epoch", req.Epoch,
		"duration", time.Since(start),
		"error", err,
	)
	return attestation, err
}
