package remote

import (
	"context"
	"fmt"
	"time"

	"fleetops-controlplane/pkg/errutil"
)

// Target is the addressing information of one host.
type Target struct {
	ID      int64
	Name    string
	Address string
	Port    int
}

// Credential is the stored login material for a host. SecretRef is resolved
// by a SecretResolver at execution time and never persisted in results.
type Credential struct {
	ID        int64
	Kind      string // password | private_key
	Username  string
	SecretRef string
}

type Request struct {
	Target     Target
	Credential *Credential
	Command    string
	Timeout    time.Duration
	Env        map[string]string
	WorkDir    string
}

type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (o *Output) Combined() string {
	if o == nil {
		return ""
	}
	if o.Stderr == "" {
		return o.Stdout
	}
	if o.Stdout == "" {
		return o.Stderr
	}
	return o.Stdout + "\n" + o.Stderr
}

// Executor runs one command on one host. Failures are errutil.Failure values
// with reason ConnectionFailed, TimedOut or NonZeroExit; for NonZeroExit the
// returned Output is non-nil and carries the exit code.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Output, error)
}

func connectionFailed(t Target, err error) error {
	return errutil.Fail(errutil.ReasonConnectionFailed, fmt.Sprintf("host %s (%s)", t.Name, t.Address), err)
}

func timedOut(t Target, after time.Duration) error {
	return errutil.Fail(errutil.ReasonTimedOut, fmt.Sprintf("host %s: no completion after %s", t.Name, after), nil)
}

func nonZeroExit(t Target, code int) error {
	return errutil.Fail(errutil.ReasonNonZeroExit, fmt.Sprintf("host %s: exit status %d", t.Name, code), nil)
}
