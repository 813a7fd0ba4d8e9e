package workflow

import (
	"context"

	"mailflow/internal/model"
)

type HealthFunc func(ctx context.Context) model.ServiceHealth

type namedCheck struct {
	name string
	fn   HealthFunc
}

type healthReporter interface {
	Healthy() (bool, string)
}

// ReporterCheck adapts a component with a Healthy method.
func ReporterCheck(r healthReporter) HealthFunc {
	return func(context.Context) model.ServiceHealth {
		ok, detail := r.Healthy()
		if ok {
			return model.ServiceHealth{Status: model.StatusHealthy, Detail: detail}
		}
		return model.ServiceHealth{Status: model.StatusUnhealthy, Detail: detail}
	}
}

// NotConfigured reports a collaborator that was never wired.
func NotConfigured(context.Context) model.ServiceHealth {
	return model.ServiceHealth{Status: model.StatusUnhealthy, Detail: "not configured"}
}

func configured(context.Context) model.ServiceHealth {
	return model.ServiceHealth{Status: model.StatusHealthy, Detail: "configured"}
}

func checkFor(v any, present bool) HealthFunc {
	if !present {
		return NotConfigured
	}
	if r, ok := v.(healthReporter); ok {
		return ReporterCheck(r)
	}
	return configured
}

func defaultChecks(analyzer Analyzer, notifier Notifier, cal EventReconciler) []namedCheck {
	return []namedCheck{
		{name: "analysis", fn: checkFor(analyzer, analyzer != nil)},
		{name: "notification", fn: checkFor(notifier, notifier != nil)},
		{name: "calendar", fn: checkFor(cal, cal != nil)},
	}
}

// HealthCheck asks every collaborator for its state. The report is healthy
// only when all are healthy and unhealthy when none is.
func (c *Coordinator) HealthCheck(ctx context.Context) model.HealthReport {
	services := make(map[string]model.ServiceHealth, len(c.checks))
	for _, chk := range c.checks {
		services[chk.name] = chk.fn(ctx)
	}
	return model.NewHealthReport(services, c.now())
}
