package pulse

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// CheckResult is the outcome of one liveness probe.
type CheckResult struct {
	Success    bool          `json:"success"`
	Latency    time.Duration `json:"latency"`
	PacketLoss float64       `json:"packet_loss"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Checker probes a target host. The probe must give up when ctx ends.
type Checker interface {
	Check(ctx context.Context, target string) (*CheckResult, error)
}

// ICMPChecker pings targets using ICMP via pro-bing.
type ICMPChecker struct {
	count      int
	privileged bool
	// fallback bounds a probe whose context carries no deadline.
	fallback time.Duration
}

// NewICMPChecker creates a checker sending count echo requests per probe.
// privileged selects raw sockets over unprivileged UDP pings.
func NewICMPChecker(count int, privileged bool) *ICMPChecker {
	if count < 1 {
		count = 1
	}
	return &ICMPChecker{count: count, privileged: privileged, fallback: time.Second}
}

// Check pings the target. An unreachable host is a failed result, not an
// error; errors are reserved for probes that could not be attempted.
func (c *ICMPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return nil, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = c.count
	pinger.Timeout = c.fallback
	if deadline, ok := ctx.Deadline(); ok {
		pinger.Timeout = time.Until(deadline)
	}
	pinger.SetPrivileged(c.privileged)

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		result := &CheckResult{CheckedAt: time.Now().UTC()}
		if runErr != nil {
			result.PacketLoss = 1.0
			result.Error = runErr.Error()
			return result, nil
		}
		stats := pinger.Statistics()
		result.Latency = stats.AvgRtt
		result.PacketLoss = stats.PacketLoss / 100.0 // pro-bing returns 0-100
		result.Success = stats.PacketsRecv > 0
		if !result.Success {
			result.Error = "all packets lost"
		}
		return result, nil

	case <-ctx.Done():
		pinger.Stop()
		return &CheckResult{
			PacketLoss: 1.0,
			Error:      "probe timed out",
			CheckedAt:  time.Now().UTC(),
		}, nil
	}
}

// probeTarget reduces a device address, which may carry a scheme, port or
// path, to the bare host to ping.
func probeTarget(address string) string {
	host := strings.TrimSpace(address)
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil {
			return u.Hostname()
		}
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
