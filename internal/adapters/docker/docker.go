// Package docker implements the Docker backend adapter (§4.6): container
// listing, lifecycle actions and log streaming against one configured
// endpoint. Grounded in docker_manager.py's container operations, rebuilt
// against the real github.com/docker/docker/client SDK instead of the
// Python docker-py wrapper.
package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/ops-core/server/internal/adapters"
	"github.com/ops-core/server/internal/config"
)

// Client is the concrete adapters.Docker implementation, bound to one
// configured endpoint (local socket or remote tcp/tls).
type Client struct {
	cli *client.Client
}

// New dials endpoint eagerly so connection failures surface at startup
// rather than on the first tool call.
func New(endpoint *config.DockerEndpointEntry) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if endpoint != nil && endpoint.Host != "" {
		opts = append(opts, client.WithHost(endpoint.Host))
	}
	if endpoint != nil && endpoint.TLSCert != "" {
		opts = append(opts, client.WithTLSClientConfig(endpoint.TLSCA, endpoint.TLSCert, endpoint.TLSKey))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, adapters.NewError(adapters.KindUnreachable, "connecting to docker daemon", err)
	}
	return &Client{cli: cli}, nil
}

func wrapDockerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case client.IsErrNotFound(err):
		return adapters.NewError(adapters.KindNotFound, op, err)
	case client.IsErrConnectionFailed(err):
		return adapters.NewError(adapters.KindUnreachable, op, err)
	default:
		return adapters.NewError(adapters.KindTransient, op, err)
	}
}

// ListContainers mirrors list_containers: short id, name, status, image
// (as the daemon reports it), creation timestamp.
func (c *Client) ListContainers(ctx context.Context, all bool) ([]adapters.ContainerSummary, error) {
	items, err := c.cli.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, wrapDockerErr("listing containers", err)
	}

	out := make([]adapters.ContainerSummary, 0, len(items))
	for _, it := range items {
		name := ""
		if len(it.Names) > 0 {
			name = strings.TrimPrefix(it.Names[0], "/")
		}
		image := it.Image
		out = append(out, adapters.ContainerSummary{
			ID:      shortID(it.ID),
			Name:    name,
			Status:  it.Status,
			Image:   image,
			Created: fmt.Sprintf("%d", it.Created),
		})
	}
	return out, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return wrapDockerErr(fmt.Sprintf("starting container %s", id), err)
	}
	return nil
}

func (c *Client) StopContainer(ctx context.Context, id string, timeoutSeconds int) error {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	if err := c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return wrapDockerErr(fmt.Sprintf("stopping container %s", id), err)
	}
	return nil
}

func (c *Client) RestartContainer(ctx context.Context, id string) error {
	if err := c.cli.ContainerRestart(ctx, id, container.StopOptions{}); err != nil {
		return wrapDockerErr(fmt.Sprintf("restarting container %s", id), err)
	}
	return nil
}

// ContainerLogs streams tail lines from the container, continuing to
// follow until ctx is cancelled when follow is true.
func (c *Client) ContainerLogs(ctx context.Context, id string, tail int, follow bool) (<-chan string, error) {
	if tail <= 0 {
		tail = 100
	}
	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
		Follow:     follow,
	})
	if err != nil {
		return nil, wrapDockerErr(fmt.Sprintf("reading logs for %s", id), err)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		defer rc.Close()

		scanner := bufio.NewScanner(demuxReader(rc))
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

// demuxReader strips the 8-byte multiplexed-stream header Docker prefixes
// each frame with when a container runs without a TTY, so scanned lines
// don't carry binary frame headers.
func demuxReader(r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		header := make([]byte, 8)
		for {
			if _, err := io.ReadFull(r, header); err != nil {
				pw.CloseWithError(err)
				return
			}
			size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
			if _, err := io.CopyN(pw, r, int64(size)); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
	}()
	return pr
}
