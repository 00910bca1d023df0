package deployment

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	Image         string
	Labels        map[string]string
	Ports         []PortPlan
	RestartPolicy RestartPolicyPlan
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// ContainerPlanParams contains all inputs for building a container plan.
type ContainerPlanParams struct {
	App           string
	Version       string
	Environment   string
	Image         string
	ContainerPort int
	HostPort      int
	RestartPolicy string
}

// =============================================================================
// Container Labels
// =============================================================================

// Label keys used to identify containers managed by hostdeploy.
const (
	LabelManaged     = "io.hostdeploy.managed"
	LabelApp         = "io.hostdeploy.app"
	LabelVersion     = "io.hostdeploy.version"
	LabelEnvironment = "io.hostdeploy.environment"
)

// Defaults for the published port mapping.
const (
	DefaultContainerPort = 80
	DefaultHostPort      = 8080
)
