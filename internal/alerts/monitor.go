package alerts

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"kangaroo-trader/internal/service"
)

// Monitor runs Service.Check on a fixed interval.
type Monitor struct {
	svc      *Service
	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewMonitor(svc *Service, interval time.Duration, logger *zap.SugaredLogger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{svc: svc, interval: interval, logger: logger}
}

// Run checks alerts until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Infow("Alert monitor started", "interval", service.FormatInterval(m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Alert monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.tick(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warnw("Alert check failed", "error", err)
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	_, err = m.svc.Check(ctx)
	return err
}
