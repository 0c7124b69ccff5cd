package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ops-core/server/internal/adapters"
	"github.com/ops-core/server/internal/config"
	"github.com/ops-core/server/internal/security"
	"github.com/ops-core/server/internal/session"
)

// Deps bundles the backend capabilities and configuration every catalog
// handler closes over. Built once at startup in cmd/serve.go and passed by
// pointer, per the "global singletons become an explicit context value"
// design note.
type Deps struct {
	Config *config.Config
	SSH     adapters.SSH
	Docker  adapters.Docker
	K8s     adapters.Kubernetes
	Logs    adapters.LocalLog
}

// BuildCatalog constructs every descriptor in the tool catalog (§6.4) plus
// the supplemented ssh_healthcheck tool, and returns them ready for
// NewRegistry.
func BuildCatalog(deps *Deps) ([]*Descriptor, error) {
	builders := []func(*Deps) (*Descriptor, error){
		newSSHExecute,
		newQueryLogs,
		newSystemInfo,
		newDiskUsage,
		newSSHHealthcheck,
		newDockerListContainers,
		newDockerLogs,
		newDockerStartContainer,
		newDockerStopContainer,
		newDockerRestartContainer,
		newK8sListPods,
		newK8sGetPod,
		newK8sLogs,
		newK8sScaleDeployment,
		newK8sRestartDeployment,
		newProfileSet,
		newContextShow,
	}

	descriptors := make([]*Descriptor, 0, len(builders))
	for _, build := range builders {
		d, err := build(deps)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func effectiveCluster(deps *Deps, requested string) string {
	if requested != "" {
		return requested
	}
	if p, err := deps.Config.ActiveProfile(); err == nil {
		return p.DefaultCluster
	}
	return ""
}

func effectiveNamespace(requested string) string {
	if requested != "" {
		return requested
	}
	return "default"
}

// ClampTimeoutSeconds enforces §4.5's "timeout is clamped to [1, 600]
// seconds regardless of tool" rule.
func ClampTimeoutSeconds(t int) int {
	if t < 1 {
		return 1
	}
	if t > 600 {
		return 600
	}
	return t
}

// --- ssh_execute ---

func newSSHExecute(deps *Deps) (*Descriptor, error) {
	return NewTool("ssh_execute", "Run a shell command on a configured host over SSH.", ScopeCore, false, 30,
		func(ctx context.Context, in SSHExecuteInput) (SSHExecuteOutput, error) {
			res, err := deps.SSH.Execute(ctx, in.Server, in.Command)
			if err != nil {
				return SSHExecuteOutput{}, err
			}
			return SSHExecuteOutput{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
		})
}

// --- query_logs ---

func newQueryLogs(deps *Deps) (*Descriptor, error) {
	return NewTool("query_logs", "Tail a log file on a configured host, optionally filtered.", ScopeCore, false, 60,
		func(ctx context.Context, in QueryLogsInput) (QueryLogsOutput, error) {
			tail := in.Tail
			if tail <= 0 {
				tail = 100
			}
			lines, err := deps.Logs.Tail(ctx, in.Server, in.LogPath, tail, in.Filter)
			if err != nil {
				return QueryLogsOutput{}, err
			}
			return QueryLogsOutput{Lines: lines}, nil
		})
}

// --- system_info ---

func systemInfoCommand() string {
	return "uptime && echo ---LOAD--- && uptime | awk -F'load average:' '{print $2}' && echo ---MEM--- && free -h"
}

func newSystemInfo(deps *Deps) (*Descriptor, error) {
	return NewTool("system_info", "Report uptime, load and memory for a configured host.", ScopeCore, false, 30,
		func(ctx context.Context, in SystemInfoInput) (SystemInfoOutput, error) {
			return systemInfo(ctx, deps, in.Server)
		})
}

func systemInfo(ctx context.Context, deps *Deps, server string) (SystemInfoOutput, error) {
	res, err := deps.SSH.Execute(ctx, server, systemInfoCommand())
	if err != nil {
		return SystemInfoOutput{}, err
	}
	sections := strings.SplitN(res.Stdout, "---LOAD---", 2)
	uptimeLine := strings.TrimSpace(sections[0])
	rest := ""
	if len(sections) > 1 {
		rest = sections[1]
	}
	memSections := strings.SplitN(rest, "---MEM---", 2)
	loadLine := strings.TrimSpace(memSections[0])
	memLine := ""
	if len(memSections) > 1 {
		memLine = strings.TrimSpace(memSections[1])
	}
	return SystemInfoOutput{Uptime: uptimeLine, Load: loadLine, Memory: memLine}, nil
}

// --- disk_usage ---

func newDiskUsage(deps *Deps) (*Descriptor, error) {
	return NewTool("disk_usage", "Report filesystem usage for a configured host.", ScopeCore, false, 30,
		func(ctx context.Context, in DiskUsageInput) (DiskUsageOutput, error) {
			res, err := deps.SSH.Execute(ctx, in.Server, "df -h")
			if err != nil {
				return DiskUsageOutput{}, err
			}
			return DiskUsageOutput{Filesystems: res.Stdout}, nil
		})
}

// --- ssh_healthcheck (supplemented, from ops/ssh_wrapper.py:healthcheck) ---

func newSSHHealthcheck(deps *Deps) (*Descriptor, error) {
	return NewTool("ssh_healthcheck", "Bundle uptime/load/memory/disk diagnostics for a configured host into one result (two SSH commands).", ScopeCore, false, 60,
		func(ctx context.Context, in SSHHealthcheckInput) (SSHHealthcheckOutput, error) {
			info, err := systemInfo(ctx, deps, in.Server)
			if err != nil {
				return SSHHealthcheckOutput{}, err
			}
			disk, err := deps.SSH.Execute(ctx, in.Server, "df -h")
			if err != nil {
				return SSHHealthcheckOutput{}, err
			}
			return SSHHealthcheckOutput{Diagnostics: map[string]string{
				"uptime": info.Uptime,
				"load":   info.Load,
				"memory": info.Memory,
				"disk":   disk.Stdout,
			}}, nil
		})
}

// --- docker_list_containers ---

func newDockerListContainers(deps *Deps) (*Descriptor, error) {
	return NewTool("docker_list_containers", "List containers on the configured Docker endpoint.", ScopeStandard, false, 30,
		func(ctx context.Context, in DockerListContainersInput) (DockerListContainersOutput, error) {
			items, err := deps.Docker.ListContainers(ctx, in.All)
			if err != nil {
				return DockerListContainersOutput{}, err
			}
			out := make([]DockerContainerSummary, 0, len(items))
			for _, it := range items {
				out = append(out, DockerContainerSummary{ID: it.ID, Name: it.Name, Status: it.Status, Image: it.Image, Created: it.Created})
			}
			return DockerListContainersOutput{Containers: out}, nil
		})
}

// --- docker_logs ---

func newDockerLogs(deps *Deps) (*Descriptor, error) {
	return NewTool("docker_logs", "Tail a container's combined log stream.", ScopeStandard, false, 60,
		func(ctx context.Context, in DockerLogsInput) (DockerLogsOutput, error) {
			tail := in.Tail
			if tail <= 0 {
				tail = 100
			}
			ch, err := deps.Docker.ContainerLogs(ctx, in.Container, tail, in.Follow)
			if err != nil {
				return DockerLogsOutput{}, err
			}
			var lines []string
			for line := range ch {
				lines = append(lines, line)
			}
			return DockerLogsOutput{Lines: lines}, nil
		})
}

// --- docker_start_container / docker_stop_container / docker_restart_container ---

func dockerActionPolicyCheck(verb string) func(json.RawMessage) *PolicyTarget {
	return func(raw json.RawMessage) *PolicyTarget {
		var in DockerContainerActionInput
		if json.Unmarshal(raw, &in) != nil {
			return nil
		}
		return &PolicyTarget{Family: "docker", Argv: []string{verb, in.Container}}
	}
}

func newDockerStartContainer(deps *Deps) (*Descriptor, error) {
	d, err := NewTool("docker_start_container", "Start a container.", ScopeAll, true, 30,
		func(ctx context.Context, in DockerContainerActionInput) (DockerAckOutput, error) {
			if err := deps.Docker.StartContainer(ctx, in.Container); err != nil {
				return DockerAckOutput{}, err
			}
			return DockerAckOutput{Acknowledged: true, Container: in.Container}, nil
		})
	if err != nil {
		return nil, err
	}
	d.PolicyCheck = dockerActionPolicyCheck("start")
	return d, nil
}

func newDockerStopContainer(deps *Deps) (*Descriptor, error) {
	d, err := NewTool("docker_stop_container", "Stop a container with a grace period.", ScopeAll, true, 30,
		func(ctx context.Context, in DockerContainerActionInput) (DockerAckOutput, error) {
			timeout := in.Timeout
			if timeout <= 0 {
				timeout = 10
			}
			if err := deps.Docker.StopContainer(ctx, in.Container, timeout); err != nil {
				return DockerAckOutput{}, err
			}
			return DockerAckOutput{Acknowledged: true, Container: in.Container}, nil
		})
	if err != nil {
		return nil, err
	}
	d.PolicyCheck = dockerActionPolicyCheck("stop")
	return d, nil
}

func newDockerRestartContainer(deps *Deps) (*Descriptor, error) {
	d, err := NewTool("docker_restart_container", "Restart a container.", ScopeAll, true, 30,
		func(ctx context.Context, in DockerContainerActionInput) (DockerAckOutput, error) {
			if err := deps.Docker.RestartContainer(ctx, in.Container); err != nil {
				return DockerAckOutput{}, err
			}
			return DockerAckOutput{Acknowledged: true, Container: in.Container}, nil
		})
	if err != nil {
		return nil, err
	}
	d.PolicyCheck = dockerActionPolicyCheck("restart")
	return d, nil
}

// --- k8s_list_pods ---

func newK8sListPods(deps *Deps) (*Descriptor, error) {
	return NewTool("k8s_list_pods", "List pods in a namespace.", ScopeStandard, false, 30,
		func(ctx context.Context, in K8sListPodsInput) (K8sListPodsOutput, error) {
			cluster := effectiveCluster(deps, in.Cluster)
			pods, err := deps.K8s.ListPods(ctx, cluster, effectiveNamespace(in.Namespace))
			if err != nil {
				return K8sListPodsOutput{}, err
			}
			out := make([]K8sPodSummary, 0, len(pods))
			for _, p := range pods {
				out = append(out, K8sPodSummary{Name: p.Name, Namespace: p.Namespace, Status: p.Status, Node: p.Node, IP: p.IP})
			}
			return K8sListPodsOutput{Pods: out}, nil
		})
}

// --- k8s_get_pod ---

func newK8sGetPod(deps *Deps) (*Descriptor, error) {
	return NewTool("k8s_get_pod", "Describe one pod.", ScopeStandard, false, 30,
		func(ctx context.Context, in K8sGetPodInput) (K8sGetPodOutput, error) {
			cluster := effectiveCluster(deps, in.Cluster)
			detail, err := deps.K8s.GetPod(ctx, cluster, effectiveNamespace(in.Namespace), in.Name)
			if err != nil {
				return K8sGetPodOutput{}, err
			}
			return K8sGetPodOutput{
				Name:       detail.Name,
				Namespace:  detail.Namespace,
				Status:     detail.Status,
				Node:       detail.Node,
				IP:         detail.IP,
				Labels:     detail.Labels,
				Containers: detail.Containers,
			}, nil
		})
}

// --- k8s_logs ---

func newK8sLogs(deps *Deps) (*Descriptor, error) {
	return NewTool("k8s_logs", "Tail a pod's log stream.", ScopeStandard, false, 60,
		func(ctx context.Context, in K8sLogsInput) (K8sLogsOutput, error) {
			cluster := effectiveCluster(deps, in.Cluster)
			tail := in.Tail
			if tail <= 0 {
				tail = 100
			}
			ch, err := deps.K8s.PodLogs(ctx, cluster, effectiveNamespace(in.Namespace), in.Pod, in.Container, tail, in.Follow)
			if err != nil {
				return K8sLogsOutput{}, err
			}
			var lines []string
			for line := range ch {
				lines = append(lines, line)
			}
			return K8sLogsOutput{Lines: lines}, nil
		})
}

// --- k8s_scale_deployment / k8s_restart_deployment ---

func newK8sScaleDeployment(deps *Deps) (*Descriptor, error) {
	d, err := NewTool("k8s_scale_deployment", "Scale a deployment to a replica count.", ScopeAll, true, 120,
		func(ctx context.Context, in K8sScaleDeploymentInput) (K8sAckOutput, error) {
			cluster := effectiveCluster(deps, in.Cluster)
			if err := deps.K8s.ScaleDeployment(ctx, cluster, effectiveNamespace(in.Namespace), in.Deployment, in.Replicas); err != nil {
				return K8sAckOutput{}, err
			}
			return K8sAckOutput{Acknowledged: true, Deployment: in.Deployment}, nil
		})
	if err != nil {
		return nil, err
	}
	d.PolicyCheck = func(raw json.RawMessage) *PolicyTarget {
		var in K8sScaleDeploymentInput
		if json.Unmarshal(raw, &in) != nil {
			return nil
		}
		return &PolicyTarget{Family: "kubectl", Argv: []string{"scale", in.Deployment}}
	}
	return d, nil
}

func newK8sRestartDeployment(deps *Deps) (*Descriptor, error) {
	d, err := NewTool("k8s_restart_deployment", "Trigger a rolling restart of a deployment.", ScopeAll, true, 120,
		func(ctx context.Context, in K8sRestartDeploymentInput) (K8sAckOutput, error) {
			cluster := effectiveCluster(deps, in.Cluster)
			if err := deps.K8s.RestartDeployment(ctx, cluster, effectiveNamespace(in.Namespace), in.Deployment); err != nil {
				return K8sAckOutput{}, err
			}
			return K8sAckOutput{Acknowledged: true, Deployment: in.Deployment}, nil
		})
	if err != nil {
		return nil, err
	}
	d.PolicyCheck = func(raw json.RawMessage) *PolicyTarget {
		var in K8sRestartDeploymentInput
		if json.Unmarshal(raw, &in) != nil {
			return nil
		}
		return &PolicyTarget{Family: "kubectl", Argv: []string{"rollout", "restart", in.Deployment}}
	}
	return d, nil
}

// --- profile_set / context_show ---

func newProfileSet(deps *Deps) (*Descriptor, error) {
	return NewTool("profile_set", "Switch the session's active profile.", ScopeCore, false, 30,
		func(ctx context.Context, in ProfileSetInput) (ProfileSetOutput, error) {
			sess, ok := session.FromContext(ctx)
			if !ok {
				return ProfileSetOutput{}, fmt.Errorf("tools: profile_set called without a session in context")
			}

			profile, err := deps.Config.ProfileByName(in.Name)
			if err != nil {
				return ProfileSetOutput{}, &ValidationError{Message: err.Error()}
			}

			current := sess.View()
			var scopeFilter map[string]bool
			if current != nil {
				scopeFilter = current.ScopeFilter
			}

			newView := &session.View{
				ProfileName:      profile.Name,
				ScopeFilter:      scopeFilter,
				DefaultCluster:   profile.DefaultCluster,
				DefaultNamespace: profile.DefaultNamespace,
				DefaultDocker:    profile.DefaultDocker,
				Allowlist:        security.NewAllowlist(*profile),
				Redactor:         security.NewRedactor(profile.RedactionRules),
			}
			if err := sess.SwapView(newView); err != nil {
				return ProfileSetOutput{}, err
			}

			return ProfileSetOutput{
				Profile:   profile.Name,
				Cluster:   profile.DefaultCluster,
				Namespace: profile.DefaultNamespace,
				Docker:    profile.DefaultDocker,
			}, nil
		})
}

func newContextShow(deps *Deps) (*Descriptor, error) {
	return NewTool("context_show", "Show the session's active profile and infrastructure context.", ScopeCore, false, 10,
		func(ctx context.Context, _ ContextShowInput) (ContextShowOutput, error) {
			sess, ok := session.FromContext(ctx)
			if !ok {
				return ContextShowOutput{}, fmt.Errorf("tools: context_show called without a session in context")
			}
			v := sess.View()
			if v == nil {
				return ContextShowOutput{}, nil
			}
			return ContextShowOutput{
				Profile:   v.ProfileName,
				Cluster:   v.DefaultCluster,
				Namespace: v.DefaultNamespace,
				Docker:    v.DefaultDocker,
			}, nil
		})
}
