package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ops-core/server/internal/adapters"
	"github.com/ops-core/server/internal/adapters/docker"
	"github.com/ops-core/server/internal/adapters/k8s"
	"github.com/ops-core/server/internal/adapters/locallog"
	"github.com/ops-core/server/internal/adapters/ssh"
	"github.com/ops-core/server/internal/audit"
	"github.com/ops-core/server/internal/config"
	"github.com/ops-core/server/internal/log"
	"github.com/ops-core/server/internal/protocol"
	"github.com/ops-core/server/internal/security"
	"github.com/ops-core/server/internal/server"
	"github.com/ops-core/server/internal/tools"
	"github.com/ops-core/server/internal/transport"
)

const defaultMaxConnsPerEndpoint = 4

// Server timeout configuration, matching the teacher's serve.go constants.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // long-lived /events streams need headroom
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var httpAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control-plane server",
	Long: `Starts the server over stdio by default (one newline-delimited
JSON-RPC connection, suitable for an MCP-style client spawning this
process directly), or over HTTP with --http <addr> (POST /rpc plus a
best-effort GET /events notification stream).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http", "", "listen address for the HTTP+SSE transport (e.g. :8080); omitted means stdio")
}

func runServe() error {
	if httpAddr != "" {
		if err := validateAddr(httpAddr); err != nil {
			return fmt.Errorf("invalid --http address %q: %w", httpAddr, err)
		}
	}

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: true})
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Rebuild the logger against the active profile's redaction rules so a
	// log line echoing an adapter error or raw command can't leak a secret
	// the same profile would have scrubbed from a tool result.
	if profile, err := cfg.ActiveProfile(); err == nil {
		redactor := security.NewRedactor(profile.RedactionRules)
		logger = log.New(log.Config{Level: slog.LevelInfo, JSON: true, Redact: redactor.RedactText})
		slog.SetDefault(logger)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	auditSink, err := buildAuditSink(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building audit sink: %w", err)
	}
	defer func() {
		if closeErr := auditSink.Close(); closeErr != nil {
			logger.Warn("audit sink close error", "error", closeErr)
		}
	}()

	deps, err := buildToolDeps(cfg)
	if err != nil {
		return fmt.Errorf("wiring adapters: %w", err)
	}

	descriptors, err := tools.BuildCatalog(deps)
	if err != nil {
		return fmt.Errorf("building tool catalog: %w", err)
	}
	registry, err := tools.NewRegistry(descriptors...)
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}

	srvCtx := server.NewContext(cfg, registry, auditSink, logger)
	engine := protocol.NewEngine(logger)
	server.RegisterMethods(engine, srvCtx)

	if httpAddr == "" {
		logger.Info("starting stdio transport", "version", ServerVersion)
		return transport.NewStdio(engine, os.Stdin, os.Stdout, logger).Run(ctx)
	}
	return runHTTP(ctx, engine, srvCtx, logger)
}

func runHTTP(ctx context.Context, engine *protocol.Engine, srvCtx *server.Context, logger *slog.Logger) error {
	httpTransport := transport.NewHTTP(engine, srvCtx, logger)

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           httpTransport.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP transport ready", "addr", httpAddr, "rpc", "/rpc", "events", "/events", "version", ServerVersion)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP transport")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down HTTP server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP transport: %w", err)
	}
}

// buildAuditSink returns a FileSink, or a MultiSink fanning out to both
// the file and Postgres if AuditPostgresDSN is configured — the file sink
// always comes first so the local trail survives a down database.
func buildAuditSink(ctx context.Context, cfg *config.Config) (audit.Sink, error) {
	fileSink, err := audit.NewFileSink(cfg.AuditLogPath)
	if err != nil {
		return nil, err
	}
	if cfg.AuditPostgresDSN == "" {
		return fileSink, nil
	}
	pgSink, err := audit.NewPostgresSink(ctx, cfg.AuditPostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connecting postgres audit sink: %w", err)
	}
	return &audit.MultiSink{Sinks: []audit.Sink{fileSink, pgSink}}, nil
}

// buildToolDeps constructs the four adapter clients and bundles them with
// cfg into the tools.Deps the catalog closes over. Only one Docker
// endpoint is wired per process: the active profile's default, falling
// back to the first configured entry.
func buildToolDeps(cfg *config.Config) (*tools.Deps, error) {
	maxConns := cfg.MaxConnsPerEndpoint
	if maxConns <= 0 {
		maxConns = defaultMaxConnsPerEndpoint
	}

	sshClient := ssh.New(cfg, maxConns)
	k8sClient := k8s.New(cfg)
	logReader := locallog.New(sshClient)

	dockerAdapter, err := buildDockerClient(cfg)
	if err != nil {
		return nil, err
	}

	return &tools.Deps{
		Config: cfg,
		SSH:    sshClient,
		Docker: dockerAdapter,
		K8s:    k8sClient,
		Logs:   logReader,
	}, nil
}

// buildDockerClient wires the active profile's default Docker endpoint
// (falling back to the first configured entry) and returns it through the
// adapters.Docker interface. With no endpoints configured at all, it
// returns a stub that refuses every call with a permanent adapter error
// rather than leaving a typed-nil *docker.Client behind the interface,
// which would panic instead of surfacing a clean refusal.
func buildDockerClient(cfg *config.Config) (adapters.Docker, error) {
	if len(cfg.DockerEndpoints) == 0 {
		return unconfiguredDocker{}, nil
	}

	name := ""
	if profile, err := cfg.ActiveProfile(); err == nil {
		name = profile.DefaultDocker
	}

	endpoint := &cfg.DockerEndpoints[0]
	if name != "" {
		if e, ok := cfg.DockerEndpointByName(name); ok {
			endpoint = e
		}
	}
	return docker.New(endpoint)
}

// unconfiguredDocker implements adapters.Docker for a process started with
// no docker_endpoints entry, so docker_* tool calls fail cleanly instead
// of reaching a nil client.
type unconfiguredDocker struct{}

var errDockerNotConfigured = adapters.NewError(adapters.KindPermanent, "no docker endpoint configured", nil)

func (unconfiguredDocker) ListContainers(ctx context.Context, all bool) ([]adapters.ContainerSummary, error) {
	return nil, errDockerNotConfigured
}

func (unconfiguredDocker) StartContainer(ctx context.Context, id string) error {
	return errDockerNotConfigured
}

func (unconfiguredDocker) StopContainer(ctx context.Context, id string, timeoutSeconds int) error {
	return errDockerNotConfigured
}

func (unconfiguredDocker) RestartContainer(ctx context.Context, id string) error {
	return errDockerNotConfigured
}

func (unconfiguredDocker) ContainerLogs(ctx context.Context, id string, tail int, follow bool) (<-chan string, error) {
	return nil, errDockerNotConfigured
}
