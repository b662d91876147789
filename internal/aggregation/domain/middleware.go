package domain

import (
	"context"
	"log/slog"
	"time"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	Submit(ctx context.Context, att Attestation) error
	Certify(ctx context.Context, address, epoch string) (*Certification, error)
	Wait(ctx context.Context, address, epoch string) (*Certification, error)
	Get(ctx context.Context, address, epoch string) (*Certification, error)
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

func (m *loggingMiddleware) Submit(ctx context.Context, att Attestation) error {
	start := time.Now()
	err := m.next.Submit(ctx, att)
	m.logger.Info("Submit",
		"vendor", att.VendorID,
		"address", att.Address,
		"epoch", att.Epoch,
		"duration", time.Since(start),
		"error", err,
	)
	return err
}

func (m *loggingMiddleware) Certify(ctx context.Context, address, epoch string) (*Certification, error) {
	start := time.Now()
	cert, err := m.next.Certify(ctx, address, epoch)
	m.logger.Info("Certify",
		"address", address,
		"epoch", epoch,
		"duration", time.Since(start),
		"error", err,
	)
	return cert, err
}

func (m *loggingMiddleware) Wait(ctx context.Context, address, epoch string) (*Certification, error) {
	start := time.Now()
	cert, err := m.next.Wait(ctx, address, epoch)
	m.logger.Info("Wait",
		"address", address,
		"epoch", epoch,
		"duration", time.Since(start),
		"error", err,
	)
	return cert, err
}

func (m *loggingMiddleware) Get(ctx context.Context, address, epoch string) (*Certification, error) {
	start := time.Now()
	cert, err := m.next.Get(ctx, address, epoch)
	m.logger.Debug("Get",
		"address", address,
		"epoch", epoch,
		"duration", time.Since(start),
		"error", err,
	)
	return cert, err
}
