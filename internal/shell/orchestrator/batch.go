package orchestrator

import (
	"context"
	"time"

	"github.com/swecc-uw/deployctl/internal/core/deployment"
)

// DeployAll deploys every registered service in registry order.
func (o *Orchestrator) DeployAll(ctx context.Context) deployment.Summary {
	return o.DeployMany(ctx, o.policy.Registry.Names())
}

// DeployMany deploys the named services one after another. A failed service
// never prevents the next one from being attempted.
func (o *Orchestrator) DeployMany(ctx context.Context, services []string) deployment.Summary {
	var summary deployment.Summary
	for _, service := range services {
		start := time.Now()
		err := o.Deploy(ctx, service)
		summary.Add(deployment.Result{
			Service:  service,
			Err:      err,
			Duration: time.Since(start),
		})
	}

	if failed := summary.Failed(); len(failed) > 0 {
		o.logger.Error("batch deployment finished with failures",
			"services", len(services),
			"failed", failed,
		)
	} else {
		o.logger.Info("batch deployment finished", "services", len(services))
	}
	return summary
}
