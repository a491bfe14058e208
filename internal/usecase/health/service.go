package health

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Checker is a dependency that can report its own liveness.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Report is the aggregate health response.
type Report struct {
	Status     string            `json:"status"` // ok or degraded
	Components map[string]string `json:"components"`
}

// Service probes the registered dependencies with a shared deadline.
type Service struct {
	checkers map[string]Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func New(checkers map[string]Checker, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{checkers: checkers, timeout: timeout, logger: logger}
}

// Check probes every dependency. The service is "ok" only when all of them
// are; individual failures are reported per component, never as an error.
func (s *Service) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := Report{Status: "ok", Components: make(map[string]string, len(s.checkers))}

	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checkers[name].HealthCheck(ctx); err != nil {
			s.logger.Warn("Dependency unhealthy", zap.String("component", name), zap.Error(err))
			report.Components[name] = err.Error()
			report.Status = "degraded"
			continue
		}
		report.Components[name] = "ok"
	}
	return report
}
