package adapters

import "context"

// ExecResult is the outcome of one command execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SSH is the capability the core consumes from the SSH backend (§4.6).
// Consumers accept this interface; the concrete client in
// internal/adapters/ssh implements it against a real host.
type SSH interface {
	Execute(ctx context.Context, host, command string) (ExecResult, error)
	// Stream yields stdout lines until ctx is cancelled; cancellation must
	// terminate the remote process.
	Stream(ctx context.Context, host, command string) (<-chan string, error)
}

type ContainerSummary struct {
	ID      string
	Name    string
	Status  string
	Image   string
	Created string
}

// Docker is the capability the core consumes from the Docker backend.
type Docker interface {
	ListContainers(ctx context.Context, all bool) ([]ContainerSummary, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeoutSeconds int) error
	RestartContainer(ctx context.Context, id string) error
	ContainerLogs(ctx context.Context, id string, tail int, follow bool) (<-chan string, error)
}

type PodSummary struct {
	Name      string
	Namespace string
	Status    string
	Node      string
	IP        string
}

type PodDetail struct {
	PodSummary
	Labels     map[string]string
	Containers []string
}

// Kubernetes is the capability the core consumes from the Kubernetes
// backend.
type Kubernetes interface {
	ListPods(ctx context.Context, cluster, namespace string) ([]PodSummary, error)
	GetPod(ctx context.Context, cluster, namespace, name string) (PodDetail, error)
	PodLogs(ctx context.Context, cluster, namespace, pod, container string, tail int, follow bool) (<-chan string, error)
	ScaleDeployment(ctx context.Context, cluster, namespace, deployment string, replicas int) error
	RestartDeployment(ctx context.Context, cluster, namespace, deployment string) error
}

// LocalLog is the capability the core consumes to tail a log file that
// lives on a managed host (§4.6's "local log reader" — local to the host
// entry, reached through the SSH adapter).
type LocalLog interface {
	Tail(ctx context.Context, host, path string, n int, filter string) ([]string, error)
}
