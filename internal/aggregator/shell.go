package aggregator

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"mailtrace/internal/config"
	"mailtrace/internal/model"
	"mailtrace/internal/parser"
	apperr "mailtrace/pkg/errors"
)

// dialer opens an SSH client connection to host:22. Extracted as a field
// so tests can substitute a fake without a real network dial.
type dialer func(ctx context.Context, host string, cfg SSHDialConfig) (sshClient, error)

// sshClient is the subset of *ssh.Client the aggregator needs, narrowed
// so tests can fake it.
type sshClient interface {
	NewSession() (sshSession, error)
	Close() error
}

type sshSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// SSHDialConfig carries the resolved auth material for one dial.
type SSHDialConfig struct {
	Username   string
	Password   string
	PrivateKey string
	Timeout    time.Duration
}

func realDial(ctx context.Context, host string, cfg SSHDialConfig) (sshClient, error) {
	auth, err := buildAuthMethods(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.Timeout,
	}

	addr := host
	if !strings.Contains(addr, ":") {
		addr = addr + ":22"
	}

	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, err
	}
	return &realSSHClient{client}, nil
}

func buildAuthMethods(cfg SSHDialConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, apperr.AuthError("dial", "invalid private key").Wrap(err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, apperr.AuthError("dial", "no usable credentials (password or private_key required)")
	}
	return methods, nil
}

type realSSHClient struct{ c *ssh.Client }

func (r *realSSHClient) NewSession() (sshSession, error) {
	s, err := r.c.NewSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}
func (r *realSSHClient) Close() error { return r.c.Close() }

// ShellAggregator connects to a host over SSH and reads its configured
// log files, filtering host-side via a substring grep and parsing
// client-side, per spec §4.2.1.
type ShellAggregator struct {
	cfg    config.SSHConfig
	domain func(host string) string
	logger *logrus.Logger
	dial   dialer
}

// NewShellAggregator builds a ShellAggregator from SSH config. domain
// resolves bare hostnames to fully-qualified ones (typically
// (*config.Config).ResolveHost).
func NewShellAggregator(cfg config.SSHConfig, domain func(string) string, logger *logrus.Logger) *ShellAggregator {
	return &ShellAggregator{cfg: cfg, domain: domain, logger: logger, dial: realDial}
}

func (a *ShellAggregator) Query(ctx context.Context, host string, keywords []string, windowStart, windowEnd time.Time) ([]model.LogRecord, error) {
	target := host
	if a.domain != nil {
		target = a.domain(host)
	}

	client, err := a.dial(ctx, target, SSHDialConfig{
		Username:   a.cfg.Username,
		Password:   a.cfg.Password,
		PrivateKey: a.cfg.PrivateKey,
		Timeout:    a.cfg.TimeoutDuration(),
	})
	if err != nil {
		return nil, apperr.AggregatorError("query", "ssh dial failed for host "+host).Wrap(err).WithMetadata("host", host)
	}
	defer client.Close()

	hostCfg := a.cfg.HostConfigFor(host)
	p := selectParser(hostCfg.Parser)

	var candidates []model.LogRecord
	for _, path := range hostCfg.LogFiles {
		lines, err := a.readFile(client, path, keywords)
		if err != nil {
			a.logDebug(host, path, err)
			continue
		}
		opts := parser.Options{
			Location:    windowEnd.Location(),
			DefaultYear: hostCfg.DefaultYear,
			Now:         windowEnd,
		}
		for _, line := range lines {
			rec, perr := parser.ParseLine(p, line, opts)
			if perr != nil {
				continue // malformed lines are silently discarded, per spec §4.1/§7
			}
			if rec.Host == "" {
				rec.Host = host
			}
			candidates = append(candidates, rec)
		}
	}

	return filterAndSort(candidates, keywords, windowStart, windowEnd), nil
}

// readFile opens one session, greps path for any of keywords (or cats it
// unfiltered when keywords is empty), and closes the session before
// returning — the session is scoped to a single file read, per spec §4.2.1.
func (a *ShellAggregator) readFile(client sshClient, path string, keywords []string) ([]string, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	cmd := readCommand(path, keywords, a.cfg.Sudo)
	out, err := session.CombinedOutput(cmd)
	if err != nil {
		// A nonzero exit status that still produced output is not a
		// failure. With no output at all (which includes grep finding no
		// matches) the error is returned and the caller skips the file.
		if len(out) == 0 {
			return nil, err
		}
	}

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// readCommand builds the remote read command: rotated logs are read via
// a zcat/cat fallback the shell resolves, with sudo escalation if
// configured and host-side keyword filtering via grep -F.
func readCommand(path string, keywords []string, sudo bool) string {
	reader := fmt.Sprintf("cat %s 2>/dev/null; zcat %s.*.gz 2>/dev/null", shellQuote(path), shellQuote(path))
	cmd := "(" + reader + ")"
	if len(keywords) > 0 {
		var grepArgs strings.Builder
		for _, k := range keywords {
			grepArgs.WriteString(" -e ")
			grepArgs.WriteString(shellQuote(k))
		}
		cmd = cmd + " | grep -F" + grepArgs.String()
	}
	if sudo {
		cmd = "sudo -n sh -c " + shellQuote(cmd)
	}
	return cmd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func selectParser(name string) parser.Parser {
	switch name {
	case "rfc5424":
		return parser.RFC5424Parser{}
	case "rfc3164":
		return parser.RFC3164Parser{}
	default:
		return parser.NewAutoParser()
	}
}

func (a *ShellAggregator) logDebug(host, path string, err error) {
	if a.logger == nil {
		return
	}
	a.logger.WithFields(logrus.Fields{
		"component": "shell_aggregator",
		"host":      host,
		"path":      path,
	}).WithError(err).Debug("failed to read log file")
}
