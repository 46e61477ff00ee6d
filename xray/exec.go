package xray

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

const (
	DefaultBin         = "/usr/local/bin/xray"
	DefaultSystemdUnit = "xray"

	defaultExecTimeout = 15 * time.Second
)

// CommandValidator shells out to the xray binary's config test mode. A hung
// binary counts as a validation failure once the timeout fires.
type CommandValidator struct {
	Bin     string
	Timeout time.Duration
}

func (v CommandValidator) Validate(path string) error {
	bin := v.Bin
	if bin == "" {
		bin = DefaultBin
	}
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "run", "-test", "-config", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("xray config test: %v: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// SystemdReloader restarts the xray unit so the process adopts the new
// document.
type SystemdReloader struct {
	Unit    string
	Timeout time.Duration
}

func (r SystemdReloader) Reload() error {
	unit := r.Unit
	if unit == "" {
		unit = DefaultSystemdUnit
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "systemctl", "restart", unit).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl restart %s: %v: %s", unit, err, bytes.TrimSpace(out))
	}
	return nil
}
