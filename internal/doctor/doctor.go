// Package doctor runs preflight readiness diagnostics for config, the
// serial link, and the logging/telemetry sinks.
package doctor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeyverbeke/gradi-mediation/internal/config"
	"github.com/joeyverbeke/gradi-mediation/internal/logging"
	"github.com/joeyverbeke/gradi-mediation/internal/serial"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes config/device/watchdog/sink checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkDevice(cfg.Config.Device))
	checks = append(checks, checkWatchdogs(cfg.Config.Watchdogs))
	checks = append(checks, checkLogDir())
	checks = append(checks, checkOTLPEndpoint(cfg.Config.Telemetry.OTLPEndpoint))
	checks = append(checks, checkMetricsAddr(cfg.Config.Telemetry.MetricsAddr))

	return Report{Checks: checks}
}

// checkDevice opens the configured serial device at the configured baud
// rate and immediately closes it, surfacing a permissions or wiring
// problem before a session is started.
func checkDevice(dev config.DeviceConfig) Check {
	if strings.TrimSpace(dev.Path) == "" {
		return Check{Name: "device", Pass: false, Message: "device.path is empty"}
	}
	if dev.Baud <= 0 {
		return Check{Name: "device", Pass: false, Message: fmt.Sprintf("device.baud %d is not valid", dev.Baud)}
	}

	conn, err := serial.Open(dev.Path, dev.Baud)
	if err != nil {
		return Check{Name: "device", Pass: false, Message: err.Error()}
	}
	_ = conn.Close()

	return Check{Name: "device", Pass: true, Message: fmt.Sprintf("opened %s at %d baud", dev.Path, dev.Baud)}
}

// checkWatchdogs validates the per-stage deadlines are positive and that
// the guard delay is non-negative, mirroring Validate's own bounds so a
// doctor run catches the same misconfiguration before a session starts.
func checkWatchdogs(w config.WatchdogConfig) Check {
	deadlines := map[string]int{
		"capture_ms":     w.CaptureMS,
		"recognize_ms":   w.RecognizeMS,
		"rewrite_ms":     w.RewriteMS,
		"first_chunk_ms": w.FirstChunkMS,
		"playback_ms":    w.PlaybackMS,
	}
	for name, ms := range deadlines {
		if ms <= 0 {
			return Check{Name: "watchdogs", Pass: false, Message: fmt.Sprintf("%s must be > 0, got %d", name, ms)}
		}
	}
	if w.GuardDelayMS < 0 {
		return Check{Name: "watchdogs", Pass: false, Message: fmt.Sprintf("guard_delay_ms must be >= 0, got %d", w.GuardDelayMS)}
	}
	return Check{Name: "watchdogs", Pass: true, Message: "all watchdogs within bounds"}
}

// checkLogDir verifies the resolved log state directory is writable.
func checkLogDir() Check {
	path, err := logging.ResolveLogDir()
	if err != nil {
		return Check{Name: "log_dir", Pass: false, Message: err.Error()}
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return Check{Name: "log_dir", Pass: false, Message: fmt.Sprintf("cannot create %s: %v", path, err)}
	}
	probe := filepath.Join(path, ".doctor-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Check{Name: "log_dir", Pass: false, Message: fmt.Sprintf("cannot write to %s: %v", path, err)}
	}
	_ = os.Remove(probe)
	return Check{Name: "log_dir", Pass: true, Message: fmt.Sprintf("writable at %s", path)}
}

// checkOTLPEndpoint validates the configured OTLP endpoint parses as a
// host:port pair. Empty is fine: tracing stays a no-op.
func checkOTLPEndpoint(endpoint string) Check {
	if strings.TrimSpace(endpoint) == "" {
		return Check{Name: "telemetry.otlp_endpoint", Pass: true, Message: "tracing disabled (no endpoint configured)"}
	}
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		return Check{Name: "telemetry.otlp_endpoint", Pass: false, Message: fmt.Sprintf("invalid host:port %q: %v", endpoint, err)}
	}
	return Check{Name: "telemetry.otlp_endpoint", Pass: true, Message: fmt.Sprintf("configured at %s", endpoint)}
}

// checkMetricsAddr validates the configured metrics bind address parses as
// a host:port pair. Empty is fine: the /metrics listener stays disabled.
func checkMetricsAddr(addr string) Check {
	if strings.TrimSpace(addr) == "" {
		return Check{Name: "telemetry.metrics_addr", Pass: true, Message: "metrics listener disabled (no address configured)"}
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Check{Name: "telemetry.metrics_addr", Pass: false, Message: fmt.Sprintf("invalid host:port %q: %v", addr, err)}
	}
	return Check{Name: "telemetry.metrics_addr", Pass: true, Message: fmt.Sprintf("will bind %s", addr)}
}
