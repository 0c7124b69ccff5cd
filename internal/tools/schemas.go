package tools

// Input/output structs for every tool in the catalog (§6.4). Field names
// match the wire contract; jsonschema_description tags drive the
// generated input_schema the same way the teacher's schemas.go does for
// its own flat input structs.

type SSHExecuteInput struct {
	Server  string `json:"server" jsonschema_description:"name of the configured host entry to run the command on"`
	Command string `json:"command" jsonschema_description:"shell command to execute on the remote host"`
	Timeout int    `json:"timeout,omitempty" jsonschema_description:"seconds to allow the command to run, clamped to [1,600]"`
}

type SSHExecuteOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type QueryLogsInput struct {
	Server  string `json:"server" jsonschema_description:"name of the configured host entry"`
	LogPath string `json:"log_path" jsonschema_description:"path to the log file on the remote host"`
	Filter  string `json:"filter,omitempty" jsonschema_description:"substring filter applied to returned lines"`
	Tail    int    `json:"tail,omitempty" jsonschema_description:"number of trailing lines to return, default 100"`
	Follow  bool   `json:"follow,omitempty" jsonschema_description:"ignored; query_logs always returns a one-shot tail and does not stream"`
}

type QueryLogsOutput struct {
	Lines []string `json:"lines"`
}

type SystemInfoInput struct {
	Server string `json:"server" jsonschema_description:"name of the configured host entry"`
}

type SystemInfoOutput struct {
	Uptime  string `json:"uptime"`
	Load    string `json:"load"`
	Memory  string `json:"memory"`
}

type DiskUsageInput struct {
	Server string `json:"server" jsonschema_description:"name of the configured host entry"`
}

type DiskUsageOutput struct {
	Filesystems string `json:"filesystems"`
}

type SSHHealthcheckInput struct {
	Server string `json:"server" jsonschema_description:"name of the configured host entry"`
}

type SSHHealthcheckOutput struct {
	Diagnostics map[string]string `json:"diagnostics"`
}

type DockerListContainersInput struct {
	All bool `json:"all,omitempty" jsonschema_description:"include stopped containers"`
}

type DockerContainerSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Image   string `json:"image"`
	Created string `json:"created"`
}

type DockerListContainersOutput struct {
	Containers []DockerContainerSummary `json:"containers"`
}

type DockerLogsInput struct {
	Container string `json:"container" jsonschema_description:"container id or name"`
	Tail      int    `json:"tail,omitempty" jsonschema_description:"trailing lines to return, default 100"`
	Follow    bool   `json:"follow,omitempty"`
}

type DockerLogsOutput struct {
	Lines []string `json:"lines"`
}

type DockerContainerActionInput struct {
	Container string `json:"container" jsonschema_description:"container id or name"`
	Timeout   int    `json:"timeout,omitempty" jsonschema_description:"stop grace period in seconds, default 10"`
}

type DockerAckOutput struct {
	Acknowledged bool   `json:"acknowledged"`
	Container    string `json:"container"`
}

type K8sListPodsInput struct {
	Namespace string `json:"namespace,omitempty" jsonschema_description:"defaults to \"default\""`
	Cluster   string `json:"cluster,omitempty" jsonschema_description:"configured cluster entry name, defaults to the profile's default cluster"`
}

type K8sPodSummary struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
	Node      string `json:"node"`
	IP        string `json:"ip"`
}

type K8sListPodsOutput struct {
	Pods []K8sPodSummary `json:"pods"`
}

type K8sGetPodInput struct {
	Name      string `json:"name" jsonschema_description:"pod name"`
	Namespace string `json:"namespace,omitempty"`
	Cluster   string `json:"cluster,omitempty"`
}

type K8sGetPodOutput struct {
	Name       string            `json:"name"`
	Namespace  string            `json:"namespace"`
	Status     string            `json:"status"`
	Node       string            `json:"node"`
	IP         string            `json:"ip"`
	Labels     map[string]string `json:"labels"`
	Containers []string          `json:"containers"`
}

type K8sLogsInput struct {
	Pod       string `json:"pod" jsonschema_description:"pod name"`
	Namespace string `json:"namespace,omitempty"`
	Container string `json:"container,omitempty"`
	Tail      int    `json:"tail,omitempty"`
	Follow    bool   `json:"follow,omitempty"`
	Cluster   string `json:"cluster,omitempty"`
}

type K8sLogsOutput struct {
	Lines []string `json:"lines"`
}

type K8sScaleDeploymentInput struct {
	Deployment string `json:"deployment" jsonschema_description:"deployment name"`
	Replicas   int    `json:"replicas" jsonschema_description:"target replica count, >= 0"`
	Namespace  string `json:"namespace,omitempty"`
	Cluster    string `json:"cluster,omitempty"`
}

type K8sRestartDeploymentInput struct {
	Deployment string `json:"deployment" jsonschema_description:"deployment name"`
	Namespace  string `json:"namespace,omitempty"`
	Cluster    string `json:"cluster,omitempty"`
}

type K8sAckOutput struct {
	Acknowledged bool   `json:"acknowledged"`
	Deployment   string `json:"deployment"`
}

type ProfileSetInput struct {
	Name string `json:"name" jsonschema_description:"name of a profile declared in the config file"`
}

type ProfileSetOutput struct {
	Profile   string `json:"profile"`
	Cluster   string `json:"cluster,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Docker    string `json:"docker,omitempty"`
}

type ContextShowInput struct{}

type ContextShowOutput struct {
	Profile   string `json:"profile"`
	Cluster   string `json:"cluster,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Docker    string `json:"docker,omitempty"`
}
