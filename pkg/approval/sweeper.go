// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Expirer is implemented by services that can expire overdue approvals.
type Expirer interface {
	ExpireApprovals(ctx context.Context) (int, error)
}

// Sweeper periodically expires overdue approvals.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over the given expirer. interval <= 0 disables
// sweeping; timeout bounds each sweep, zero for no bound.
func NewSweeper(expirer Expirer, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{expirer: expirer, interval: interval, timeout: timeout}
}

// Start launches the sweep loop. Calling Start on a running sweeper restarts it.
func (s *Sweeper) Start() {
	log := slog.Default()
	if s.interval <= 0 || s.expirer == nil {
		log.Info("approval.sweeper.disabled", slog.Duration("interval", s.interval))
		return
	}
	if s.cancel != nil {
		s.Stop()
	}
	initSweepMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		log.Info("approval.sweeper.start", slog.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				log.Info("approval.sweeper.stop")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if s.done != nil {
		<-s.done
	}
	s.cancel = nil
	s.done = nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	log := slog.Default()
	sweepCtx := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		sweepCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	sweepCtx, span := otel.Tracer("larder/approval").Start(sweepCtx, "approval.sweep")
	defer span.End()

	start := time.Now()
	expired, err := s.expirer.ExpireApprovals(sweepCtx)
	durationMs := float64(time.Since(start).Seconds() * 1000)
	sweepCounter.Add(ctx, 1)
	sweepLatencyMs.Record(ctx, durationMs)
	if err != nil {
		sweepErrorCounter.Add(ctx, 1)
		span.RecordError(err)
		log.Warn("approval.sweep.error",
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	if expired > 0 {
		expiredCounter.Add(ctx, int64(expired))
	}
	span.SetAttributes(attribute.Int("expired", expired))
	log.Info("approval.sweep.complete",
		slog.Int("expired", expired),
		slog.Float64("duration_ms", durationMs),
	)
}

var (
	sweepMetricsOnce  sync.Once
	sweepCounter      metric.Int64Counter
	sweepErrorCounter metric.Int64Counter
	expiredCounter    metric.Int64Counter
	sweepLatencyMs    metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("larder/approval")
		sweepCounter, _ = meter.Int64Counter("larder.approval.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("larder.approval.sweep.error.count")
		expiredCounter, _ = meter.Int64Counter("larder.approval.expired.count")
		sweepLatencyMs, _ = meter.Float64Histogram("larder.approval.sweep.latency_ms")
	})
}
