// Package ssh implements the SSH backend adapter (§4.6): command execution
// and log streaming against a configured host entry, including optional
// bastion hops. Grounded in the original ssh_wrapper.py's command shape and
// diagnostics bundle, rebuilt against a real golang.org/x/crypto/ssh client
// instead of shelling out to the ssh(1) binary.
package ssh

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ops-core/server/internal/adapters"
	"github.com/ops-core/server/internal/config"
)

// connectTimeout bounds the dial+handshake step for both the bastion hop
// and the target host.
const connectTimeout = 10 * time.Second

// Client is the concrete adapters.SSH implementation. One Client serves
// every configured host; connections are leased from a per-host pool so a
// flapping host can't starve the others.
type Client struct {
	cfg  *config.Config
	pool *adapters.Pool[*ssh.Client]
}

// New builds a Client bounded to maxLeases concurrent leases per host, all
// sharing that host's one cached connection.
func New(cfg *config.Config, maxLeases int) *Client {
	c := &Client{cfg: cfg}
	c.pool = adapters.NewPool(maxLeases, 1, c.dial)
	return c
}

func (c *Client) hostEntry(host string) (*config.HostEntry, error) {
	h, ok := c.cfg.HostByName(host)
	if !ok {
		return nil, adapters.NewError(adapters.KindNotFound, fmt.Sprintf("host %q is not configured", host), nil)
	}
	return h, nil
}

func (c *Client) dial(ctx context.Context, host string) (*ssh.Client, error) {
	h, err := c.hostEntry(host)
	if err != nil {
		return nil, err
	}

	signer, err := loadSigner(h.KeyPath)
	if err != nil {
		return nil, adapters.NewError(adapters.KindPermanent, "loading private key", err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            valueOr(h.User, "root"),
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	addr := net.JoinHostPort(h.Address, portOr(h.Port))

	if h.BastionAddress == "" {
		conn, err := ssh.Dial("tcp", addr, clientCfg)
		if err != nil {
			return nil, adapters.NewError(adapters.KindUnreachable, fmt.Sprintf("dialing %s", addr), err)
		}
		return conn, nil
	}

	bastionSigner, err := loadSigner(h.BastionKeyPath)
	if err != nil {
		return nil, adapters.NewError(adapters.KindPermanent, "loading bastion private key", err)
	}
	bastionCfg := &ssh.ClientConfig{
		User:            valueOr(h.BastionUser, "root"),
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(bastionSigner)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	bastion, err := ssh.Dial("tcp", h.BastionAddress, bastionCfg)
	if err != nil {
		return nil, adapters.NewError(adapters.KindUnreachable, fmt.Sprintf("dialing bastion %s", h.BastionAddress), err)
	}

	targetConn, err := bastion.Dial("tcp", addr)
	if err != nil {
		bastion.Close()
		return nil, adapters.NewError(adapters.KindUnreachable, fmt.Sprintf("dialing %s via bastion", addr), err)
	}

	ncc, chans, reqs, err := ssh.NewClientConn(targetConn, addr, clientCfg)
	if err != nil {
		bastion.Close()
		return nil, adapters.NewError(adapters.KindUnauthorized, fmt.Sprintf("handshake with %s via bastion", addr), err)
	}

	return ssh.NewClient(ncc, chans, reqs), nil
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("no key_path configured")
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", keyPath, err)
	}
	return signer, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func portOr(p int) string {
	if p == 0 {
		p = 22
	}
	return fmt.Sprintf("%d", p)
}

// Execute runs command on host and waits for it to finish or ctx to be
// cancelled (§4.6, grounded in execute_command's timeout/redaction shape;
// redaction itself happens one layer up in the dispatcher).
func (c *Client) Execute(ctx context.Context, host, command string) (adapters.ExecResult, error) {
	conn, release, err := c.pool.Acquire(ctx, host)
	if err != nil {
		return adapters.ExecResult{}, classifyDialErr(err)
	}

	session, err := conn.NewSession()
	if err != nil {
		release(true)
		return adapters.ExecResult{}, adapters.NewError(adapters.KindUnreachable, "opening session", err)
	}
	defer session.Close()

	var stdout, stderr outputBuffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		release(false)
		return adapters.ExecResult{}, adapters.NewError(adapters.KindCancelled, "command cancelled", ctx.Err())
	case runErr := <-done:
		release(false)
		exitCode := 0
		if runErr != nil {
			var exitErr *ssh.ExitError
			if ok := asExitError(runErr, &exitErr); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return adapters.ExecResult{}, adapters.NewError(adapters.KindUnreachable, "running command", runErr)
			}
		}
		return adapters.ExecResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: exitCode,
		}, nil
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	if ee, ok := err.(*ssh.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func classifyDialErr(err error) error {
	if _, ok := err.(*adapters.Error); ok {
		return err
	}
	return adapters.NewError(adapters.KindUnreachable, "acquiring connection", err)
}

// Stream tails command's stdout line by line until ctx is cancelled, at
// which point the remote process is signalled to stop.
func (c *Client) Stream(ctx context.Context, host, command string) (<-chan string, error) {
	conn, release, err := c.pool.Acquire(ctx, host)
	if err != nil {
		return nil, classifyDialErr(err)
	}

	session, err := conn.NewSession()
	if err != nil {
		release(true)
		return nil, adapters.NewError(adapters.KindUnreachable, "opening session", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		release(true)
		return nil, adapters.NewError(adapters.KindUnreachable, "opening stdout pipe", err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		release(true)
		return nil, adapters.NewError(adapters.KindUnreachable, "starting command", err)
	}

	lines := make(chan string, 64)
	readerDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			session.Signal(ssh.SIGKILL)
			session.Close()
		case <-readerDone:
		}
	}()
	go func() {
		defer close(lines)
		defer release(false)
		defer session.Close()
		defer close(readerDone)

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				session.Signal(ssh.SIGKILL)
				return
			case lines <- scanner.Text():
			}
		}
	}()

	return lines, nil
}

type outputBuffer struct {
	b []byte
}

func (o *outputBuffer) Write(p []byte) (int, error) {
	o.b = append(o.b, p...)
	return len(p), nil
}

func (o *outputBuffer) String() string { return string(o.b) }
