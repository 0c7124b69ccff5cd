// Package k8s implements the Kubernetes backend adapter (§4.6): pod
// listing/detail, log streaming, and deployment scale/restart operations
// against one or more configured clusters. Grounded in k8s_manager.py's
// pod/deployment shape, rebuilt against k8s.io/client-go instead of the
// Python kubernetes client.
package k8s

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/kubernetes"

	"github.com/ops-core/server/internal/adapters"
	"github.com/ops-core/server/internal/config"
)

// restartedAtAnnotation is the same annotation kubectl rollout restart
// sets; patching it forces the deployment's pod template to roll.
const restartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// Client is the concrete adapters.Kubernetes implementation. It keeps one
// clientset per cluster name, built lazily from the configured kubeconfig.
type Client struct {
	cfg *config.Config

	mu         sync.Mutex
	clientsets map[string]*kubernetes.Clientset
}

func New(cfg *config.Config) *Client {
	return &Client{cfg: cfg, clientsets: make(map[string]*kubernetes.Clientset)}
}

func (c *Client) clientsetFor(cluster string) (*kubernetes.Clientset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cs, ok := c.clientsets[cluster]; ok {
		return cs, nil
	}

	entry, ok := c.cfg.ClusterByName(cluster)
	if !ok {
		return nil, adapters.NewError(adapters.KindNotFound, fmt.Sprintf("cluster %q is not configured", cluster), nil)
	}

	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: entry.KubeconfigPath}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: entry.Context}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, adapters.NewError(adapters.KindPermanent, fmt.Sprintf("loading kubeconfig for %s", cluster), err)
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, adapters.NewError(adapters.KindPermanent, fmt.Sprintf("building clientset for %s", cluster), err)
	}

	c.clientsets[cluster] = cs
	return cs, nil
}

func (c *Client) wrapK8sErr(cluster, op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case apierrors.IsNotFound(err):
		return adapters.NewError(adapters.KindNotFound, op, err)
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		// §7: an Unauthorized adapter error invalidates the cached
		// connection for that endpoint so the next call rebuilds the
		// clientset instead of retrying against stale credentials.
		c.mu.Lock()
		delete(c.clientsets, cluster)
		c.mu.Unlock()
		return adapters.NewError(adapters.KindUnauthorized, op, err)
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err):
		return adapters.NewError(adapters.KindTimeout, op, err)
	case apierrors.IsTooManyRequests(err), apierrors.IsServiceUnavailable(err):
		return adapters.NewError(adapters.KindTransient, op, err)
	default:
		return adapters.NewError(adapters.KindTransient, op, err)
	}
}

func summarize(pod *corev1.Pod) adapters.PodSummary {
	return adapters.PodSummary{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Status:    string(pod.Status.Phase),
		Node:      pod.Spec.NodeName,
		IP:        pod.Status.PodIP,
	}
}

func (c *Client) ListPods(ctx context.Context, cluster, namespace string) ([]adapters.PodSummary, error) {
	cs, err := c.clientsetFor(cluster)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = "default"
	}

	pods, err := cs.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, c.wrapK8sErr(cluster, fmt.Sprintf("listing pods in %s", namespace), err)
	}

	out := make([]adapters.PodSummary, 0, len(pods.Items))
	for i := range pods.Items {
		out = append(out, summarize(&pods.Items[i]))
	}
	return out, nil
}

func (c *Client) GetPod(ctx context.Context, cluster, namespace, name string) (adapters.PodDetail, error) {
	cs, err := c.clientsetFor(cluster)
	if err != nil {
		return adapters.PodDetail{}, err
	}
	if namespace == "" {
		namespace = "default"
	}

	pod, err := cs.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return adapters.PodDetail{}, c.wrapK8sErr(cluster, fmt.Sprintf("getting pod %s/%s", namespace, name), err)
	}

	containers := make([]string, 0, len(pod.Spec.Containers))
	for _, ct := range pod.Spec.Containers {
		containers = append(containers, ct.Name)
	}

	return adapters.PodDetail{
		PodSummary: summarize(pod),
		Labels:     pod.Labels,
		Containers: containers,
	}, nil
}

func (c *Client) PodLogs(ctx context.Context, cluster, namespace, pod, container string, tail int, follow bool) (<-chan string, error) {
	cs, err := c.clientsetFor(cluster)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = "default"
	}
	if tail <= 0 {
		tail = 100
	}

	tailLines := int64(tail)
	opts := &corev1.PodLogOptions{
		Container: container,
		TailLines: &tailLines,
		Follow:    follow,
	}

	stream, err := cs.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return nil, c.wrapK8sErr(cluster, fmt.Sprintf("reading logs for %s/%s", namespace, pod), err)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		defer stream.Close()

		scanner := bufio.NewScanner(stream)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case lines <- scanner.Text():
			}
		}
	}()

	return lines, nil
}

func (c *Client) ScaleDeployment(ctx context.Context, cluster, namespace, deployment string, replicas int) error {
	cs, err := c.clientsetFor(cluster)
	if err != nil {
		return err
	}
	if namespace == "" {
		namespace = "default"
	}

	scale, err := cs.AppsV1().Deployments(namespace).GetScale(ctx, deployment, metav1.GetOptions{})
	if err != nil {
		return c.wrapK8sErr(cluster, fmt.Sprintf("reading scale for %s/%s", namespace, deployment), err)
	}
	scale.Spec.Replicas = int32(replicas)

	if _, err := cs.AppsV1().Deployments(namespace).UpdateScale(ctx, deployment, scale, metav1.UpdateOptions{}); err != nil {
		return c.wrapK8sErr(cluster, fmt.Sprintf("scaling %s/%s to %d", namespace, deployment, replicas), err)
	}
	return nil
}

// RestartDeployment patches the restart annotation the same way
// `kubectl rollout restart` does, forcing a rolling replacement of every
// pod without changing the replica count.
func (c *Client) RestartDeployment(ctx context.Context, cluster, namespace, deployment string) error {
	cs, err := c.clientsetFor(cluster)
	if err != nil {
		return err
	}
	if namespace == "" {
		namespace = "default"
	}

	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{%q:%q}}}}}`,
		restartedAtAnnotation, time.Now().UTC().Format(time.RFC3339),
	)

	_, err = cs.AppsV1().Deployments(namespace).Patch(ctx, deployment, types.MergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return c.wrapK8sErr(cluster, fmt.Sprintf("restarting %s/%s", namespace, deployment), err)
	}
	return nil
}
