// Package locallog implements the local-log-reader adapter: tailing a log
// file that lives on a managed host, reached through the SSH adapter
// (§4.6). Grounded in ssh_wrapper.py's tail_logs, generalized to take an
// optional substring filter.
package locallog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ops-core/server/internal/adapters"
)

// Reader tails a file over an adapters.SSH connection.
type Reader struct {
	ssh adapters.SSH
}

func New(ssh adapters.SSH) *Reader {
	return &Reader{ssh: ssh}
}

// Tail runs "tail -n N path", optionally piped through grep -F for filter,
// and splits the result into lines. n defaults to 100 when <= 0.
func (r *Reader) Tail(ctx context.Context, host, path string, n int, filter string) ([]string, error) {
	if n <= 0 {
		n = 100
	}

	command := fmt.Sprintf("tail -n %s %s", strconv.Itoa(n), shellQuote(path))
	if filter != "" {
		command += fmt.Sprintf(" | grep -F %s", shellQuote(filter))
	}

	result, err := r.ssh.Execute(ctx, host, command)
	if err != nil {
		return nil, err
	}

	// grep -F exits 1 when nothing matches; that is not a backend failure.
	if result.ExitCode != 0 && strings.TrimSpace(result.Stdout) == "" && filter != "" {
		return []string{}, nil
	}

	trimmed := strings.TrimRight(result.Stdout, "\n")
	if trimmed == "" {
		return []string{}, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// shellQuote wraps s in single quotes, escaping any embedded single quote,
// so a filter or path containing spaces or shell metacharacters can't
// break out of the tail/grep invocation it's interpolated into.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
