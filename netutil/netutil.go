// Package netutil provides the network-readiness probe used between
// provisioning and installation: a capped poll-until-ready loop with
// backoff that proceeds regardless of outcome once the cap is reached.
package netutil

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	defaultPort    = "22"
	probeTimeout   = 5 * time.Second
	maxInterval    = 30 * time.Second
	initialBackoff = 2 * time.Second
)

// probe is swapped out in tests.
var probe = sshProbe

// WaitForSSH polls addr until its SSH service answers or the wait window
// elapses. It never aborts the run: the return value only reports whether
// the target became reachable within the window.
func WaitForSSH(ctx context.Context, addr string, window time.Duration, logger *slog.Logger) bool {
	if addr == "" {
		return false
	}
	hostPort := addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		hostPort = net.JoinHostPort(addr, defaultPort)
	}

	deadline := time.Now().Add(window)
	interval := initialBackoff

	for attempt := 1; ; attempt++ {
		if probe(hostPort) {
			logger.Info("target reachable", "address", hostPort, "attempts", attempt)
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn("target not reachable within settle window, proceeding anyway",
				"address", hostPort, "waited", window)
			return false
		}
		if interval > remaining {
			interval = remaining
		}
		logger.Debug("target not ready, retrying", "address", hostPort, "attempt", attempt, "backoff", interval)

		select {
		case <-ctx.Done():
			logger.Warn("settle wait cancelled", "address", hostPort)
			return false
		case <-time.After(interval):
		}
		if interval < maxInterval {
			interval *= 2
		}
	}
}

// sshProbe attempts an SSH handshake. An authentication rejection still
// proves the service is up and answering.
func sshProbe(hostPort string) bool {
	cfg := &ssh.ClientConfig{
		User:            "kairos",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         probeTimeout,
	}
	client, err := ssh.Dial("tcp", hostPort, cfg)
	if err == nil {
		client.Close()
		return true
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}
