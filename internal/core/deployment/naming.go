package deployment

// =============================================================================
// Resource Naming Functions
// =============================================================================

// DefaultStagingSuffix is appended to a service name to form its staging unit name.
const DefaultStagingSuffix = "_staging"

// DefaultEnvKeySuffix is appended to a service name to form its config store key.
const DefaultEnvKeySuffix = "_env"

// StagingName generates the transient staging unit name for a service.
// Pattern: {service}{suffix}
//
// Example:
//
//	StagingName("server", "_staging") // returns "server_staging"
func StagingName(service, suffix string) string {
	if suffix == "" {
		suffix = DefaultStagingSuffix
	}
	return service + suffix
}

// EnvConfigKey generates the config store key holding a service's environment bundle.
// Pattern: {service}{suffix}
//
// Example:
//
//	EnvConfigKey("server", "") // returns "server_env"
func EnvConfigKey(service, suffix string) string {
	if suffix == "" {
		suffix = DefaultEnvKeySuffix
	}
	return service + suffix
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "com.swecc.managed"
	LabelService = "com.swecc.service"
	LabelRole    = "com.swecc.role"
	LabelAttempt = "com.swecc.attempt"
)
