package deployment

// =============================================================================
// Container Plan Builder
// =============================================================================

// BuildContainerPlan builds the plan for the single container of an app.
// The name is always ContainerName(app) so that at most one instance exists.
func BuildContainerPlan(params ContainerPlanParams) ContainerPlan {
	containerPort := params.ContainerPort
	if containerPort == 0 {
		containerPort = DefaultContainerPort
	}
	hostPort := params.HostPort
	if hostPort == 0 {
		hostPort = DefaultHostPort
	}

	labels := map[string]string{
		LabelManaged: "true",
		LabelApp:     params.App,
	}
	if params.Version != "" {
		labels[LabelVersion] = params.Version
	}
	if params.Environment != "" {
		labels[LabelEnvironment] = params.Environment
	}

	return ContainerPlan{
		Name:   ContainerName(params.App),
		Image:  params.Image,
		Labels: labels,
		Ports: []PortPlan{
			{ContainerPort: containerPort, HostPort: hostPort, Protocol: "tcp"},
		},
		RestartPolicy: RestartPolicyPlan{Name: params.RestartPolicy},
	}
}
