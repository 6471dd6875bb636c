package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"fleetops-controlplane/pkg/config"
	"fleetops-controlplane/pkg/hashistack/secretmanager"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var Module = fx.Module("remote",
	fx.Provide(
		NewPool,
		newSecretResolver,
		NewSSHExecutor,
		func(e *SSHExecutor) Executor { return e },
	),
	fx.Invoke(func(lc fx.Lifecycle, pool *Pool) {
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return pool.Close() }})
	}),
)

type secretParams struct {
	fx.In
	Config *config.Config
	Vault  *secretmanager.KV `optional:"true"`
}

func newSecretResolver(p secretParams) SecretResolver {
	r := RefResolver{Dir: p.Config.SSH.SecretsDir}
	if p.Vault != nil {
		r.Vault = p.Vault
	}
	return r
}

var envKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type SSHExecutor struct {
	pool        *Pool
	secrets     SecretResolver
	hostKeys    ssh.HostKeyCallback
	defaultUser string
	defaultPort int
	dialTimeout time.Duration
}

func NewSSHExecutor(cfg *config.Config, pool *Pool, secrets SecretResolver) (*SSHExecutor, error) {
	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.SSH.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.SSH.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKeys = cb
	} else {
		zap.L().Warn("[Remote] SSH.KNOWN_HOSTS not set, host keys are not verified")
	}

	return &SSHExecutor{
		pool:        pool,
		secrets:     secrets,
		hostKeys:    hostKeys,
		defaultUser: cfg.SSH.DefaultUser,
		defaultPort: cfg.SSH.DefaultPort,
		dialTimeout: cfg.SSH.DialTimeout,
	}, nil
}

func (e *SSHExecutor) clientConfig(ctx context.Context, cred *Credential) (*ssh.ClientConfig, error) {
	cc := &ssh.ClientConfig{
		User:            e.defaultUser,
		HostKeyCallback: e.hostKeys,
		Timeout:         e.dialTimeout,
	}
	if cred == nil {
		return nil, errors.New("host has no credential")
	}
	if cred.Username != "" {
		cc.User = cred.Username
	}

	secret, err := e.secrets.Resolve(ctx, cred.SecretRef)
	if err != nil {
		return nil, err
	}

	switch cred.Kind {
	case "password":
		cc.Auth = []ssh.AuthMethod{ssh.Password(string(secret))}
	case "private_key", "":
		signer, err := ssh.ParsePrivateKey(secret)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		cc.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		return nil, fmt.Errorf("unsupported credential kind %q", cred.Kind)
	}
	return cc, nil
}

func (e *SSHExecutor) dialer(t Target, cred *Credential) DialFunc {
	return func(ctx context.Context) (io.Closer, error) {
		cc, err := e.clientConfig(ctx, cred)
		if err != nil {
			return nil, err
		}

		port := t.Port
		if port == 0 {
			port = e.defaultPort
		}
		addr := net.JoinHostPort(t.Address, strconv.Itoa(port))

		d := net.Dialer{Timeout: e.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}

		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return ssh.NewClient(c, chans, reqs), nil
	}
}

// Execute runs req.Command over SSH. When the deadline passes the session is
// abandoned and its connection discarded; the remote process is not signalled.
func (e *SSHExecutor) Execute(ctx context.Context, req Request) (*Output, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	lease, err := e.pool.Acquire(ctx, req.Target.ID, e.dialer(req.Target, req.Credential))
	if err != nil {
		if ctx.Err() != nil {
			return nil, timedOut(req.Target, time.Since(start))
		}
		return nil, connectionFailed(req.Target, err)
	}

	discard := true
	defer func() { lease.Release(discard) }()

	client := lease.Conn().(*ssh.Client)
	session, err := client.NewSession()
	if err != nil {
		return nil, connectionFailed(req.Target, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(BuildCommand(req.Command, req.WorkDir, req.Env)) }()

	select {
	case <-ctx.Done():
		return nil, timedOut(req.Target, time.Since(start))
	case err = <-done:
	}

	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		discard = false
		return out, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		discard = false
		out.ExitCode = exitErr.ExitStatus()
		return out, nonZeroExit(req.Target, out.ExitCode)
	}
	return out, connectionFailed(req.Target, err)
}

// BuildCommand wraps command with a directory change and exported environment.
// Keys that are not valid shell identifiers are dropped.
func BuildCommand(command, workDir string, env map[string]string) string {
	var b strings.Builder

	keys := make([]string, 0, len(env))
	for k := range env {
		if envKey.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, shellQuote(env[k]))
	}
	if workDir != "" {
		fmt.Fprintf(&b, "cd %s && ", shellQuote(workDir))
	}
	b.WriteString(command)
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
