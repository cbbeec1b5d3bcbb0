// Package deployment provides pure functions and values for zero-downtime
// service deployment.
//
// This package contains the functional core of the deployment protocol: unit
// naming, image references, the attempt state machine, the error taxonomy and
// the batch summary. Nothing here performs I/O.
//
// # Functions
//
//   - Naming: StagingName, EnvConfigKey
//   - Images: ImageRef
//   - Planning: BuildUnitPlan builds the production or staging unit for a service
//   - Reporting: Summary aggregates per-service results of a batch run
//
// # Usage
//
// The imperative shell (internal/shell/orchestrator) uses these values to
// sequence a deployment, then executes the plans via the runtime client.
//
//	plan := deployment.BuildUnitPlan(deployment.UnitPlanParams{
//	    Service: "server",
//	    Role:    deployment.RoleStaging,
//	    ...
//	})
package deployment
