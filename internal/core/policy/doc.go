// Package policy maps service names to the resources, mounts and published
// ports their deployment units receive.
//
// Each table is a plain map keyed by service name, with a shared default for
// resources. All functions are pure.
//
//	table := policy.DefaultTable()
//	profile := table.Resolve("scheduler")
//	mounts := policy.DefaultMounts().Mounts("chronos")
package policy
