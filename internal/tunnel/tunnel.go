// Package tunnel opens the bastion proxy that the system-components and application
// layers are applied through.
//
// The tunnel command comes from the infrastructure layer (gcloud IAP ssh, plain ssh,
// ...). It is run as a background process tree that is torn down when the scope passed
// to With returns. The command itself gives no readiness signal; by default the tunnel
// is given a fixed settle interval, optionally followed by polling the local proxy port.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/astrodeploy/internal/procgroup"
	"github.com/go-logr/logr"
)

const (
	// Endpoint is the local HTTP proxy exposed by every bastion tunnel.
	Endpoint = "http://127.0.0.1:1234"
	// DefaultSettle is how long a freshly started tunnel is given before traffic is
	// routed through it.
	DefaultSettle = 10 * time.Second
	// DefaultProbeTimeout bounds ReadinessProbe.
	DefaultProbeTimeout = 30 * time.Second

	defaultProbeInterval = 250 * time.Millisecond
)

// Readiness selects how the tunnel is judged ready.
type Readiness string

const (
	// ReadinessSleep waits the settle interval and proceeds.
	ReadinessSleep Readiness = "sleep"
	// ReadinessProbe waits the settle interval, then polls the proxy port until it
	// accepts connections or the probe timeout expires.
	ReadinessProbe Readiness = "probe"
)

// ParseReadiness validates a readiness mode name.
func ParseReadiness(raw string) (Readiness, error) {
	switch Readiness(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ReadinessSleep:
		return ReadinessSleep, nil
	case ReadinessProbe:
		return ReadinessProbe, nil
	default:
		return "", fmt.Errorf("unknown proxy readiness %q (expected sleep or probe)", raw)
	}
}

// Options configures a tunnel.
type Options struct {
	Settle        time.Duration
	Readiness     Readiness
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
	Dir           string
	Stdout        io.Writer
	Stderr        io.Writer
	Log           logr.Logger

	probeAddr string
}

// DefaultOptions returns the settle interval and readiness mode used by deploys.
func DefaultOptions() Options {
	return Options{
		Settle:       DefaultSettle,
		Readiness:    ReadinessSleep,
		ProbeTimeout: DefaultProbeTimeout,
	}
}

// Tunnel is an established proxy.
type Tunnel struct {
	Endpoint string
	Command  string
	Pid      int
}

// ErrNotReady is returned when the tunnel never became usable.
var ErrNotReady = errors.New("proxy tunnel not ready")

// With starts command, waits for it to become ready and runs fn. The tunnel process and
// all of its descendants are killed before With returns, whatever fn does.
func With(ctx context.Context, command string, opts Options, fn func(context.Context, *Tunnel) error) error {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	popts := procgroup.Options{Dir: opts.Dir, Stdout: opts.Stdout, Stderr: opts.Stderr, Log: log}
	return procgroup.Run(ctx, command, popts, func(ctx context.Context, p *procgroup.Process) error {
		log.Info("proxy tunnel starting", "endpoint", Endpoint, "settle", opts.Settle.String(), "readiness", string(opts.Readiness))
		if err := waitReady(ctx, p, opts); err != nil {
			return err
		}
		log.Info("proxy tunnel up", "endpoint", Endpoint, "pid", p.Pid)
		defer log.Info("proxy tunnel closing", "endpoint", Endpoint)
		return fn(ctx, &Tunnel{Endpoint: Endpoint, Command: command, Pid: p.Pid})
	})
}

func waitReady(ctx context.Context, p *procgroup.Process, opts Options) error {
	if err := settle(ctx, p, opts.Settle); err != nil {
		return err
	}
	switch opts.Readiness {
	case "", ReadinessSleep:
		return nil
	case ReadinessProbe:
		return probe(ctx, p, opts)
	default:
		return fmt.Errorf("unknown proxy readiness %q", opts.Readiness)
	}
}

func settle(ctx context.Context, p *procgroup.Process, d time.Duration) error {
	if d <= 0 {
		return exitedEarly(p)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.Done():
		if err := exitedEarly(p); err != nil {
			return err
		}
		if !procgroup.FollowsDetached {
			return fmt.Errorf("%w: tunnel command exited before the proxy was ready", ErrNotReady)
		}
		// exited cleanly: the command backgrounded itself, keep waiting
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	case <-timer.C:
		return exitedEarly(p)
	}
}

func probe(ctx context.Context, p *procgroup.Process, opts Options) error {
	addr := opts.probeAddr
	if addr == "" {
		var err error
		if addr, err = ProxyAddr(Endpoint); err != nil {
			return err
		}
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	interval := opts.ProbeInterval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	deadline := time.Now().Add(timeout)
	dialer := net.Dialer{Timeout: interval}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if err := exitedEarly(p); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s did not accept connections within %s", ErrNotReady, addr, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// exitedEarly reports a tunnel command that already failed. A command that exited with
// status zero is assumed to have daemonized its tunnel; its detached descendants are
// still torn down with the scope.
func exitedEarly(p *procgroup.Process) error {
	if !p.Exited() {
		return nil
	}
	if err := p.ExitErr(); err != nil {
		return fmt.Errorf("%w: tunnel command exited: %v", ErrNotReady, err)
	}
	return nil
}

// ProxyAddr returns host:port of a proxy URL.
func ProxyAddr(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse proxy endpoint: %w", err)
	}
	if u.Host == "" || u.Port() == "" {
		return "", fmt.Errorf("proxy endpoint %q has no host:port", endpoint)
	}
	return u.Host, nil
}

// Environment returns the variables the proxy-dependent layers are applied with.
func Environment(endpoint, root string) map[string]string {
	return map[string]string{
		"http_proxy":  endpoint,
		"https_proxy": endpoint,
		"HTTP_PROXY":  endpoint,
		"HTTPS_PROXY": endpoint,
		"HELM_HOME":   filepath.Join(root, ".helm"),
		"KUBECONFIG":  filepath.Join(root, "terraform", "kubeconfig"),
	}
}
