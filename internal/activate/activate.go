// Package activate hands a service descriptor to the host supervisor,
// starts it, and checks once whether it stayed up.
package activate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"personactl/internal/host"
	"personactl/internal/resolve"
)

// State is a point in the activation sequence.
type State string

const (
	StateNone       State = "none"
	StateRegistered State = "registered"
	StateEnabled    State = "enabled"
	StateStarted    State = "started"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
)

// Controller drives one service through activation.
type Controller struct {
	Host   host.Host
	Settle time.Duration
	// PostInstallTest overrides the default <install>/tests/smoke.sh.
	PostInstallTest string
	Log             zerolog.Logger

	// Sleep waits out the settle delay; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	state State
}

// State returns the last state reached.
func (c *Controller) State() State {
	if c.state == "" {
		return StateNone
	}
	return c.state
}

// Register submits the descriptor and reloads the supervisor.
func (c *Controller) Register(ctx context.Context, u host.Unit) error {
	if err := c.Host.RegisterService(ctx, u); err != nil {
		return err
	}
	c.state = StateRegistered
	return nil
}

// Enable requests start at boot.
func (c *Controller) Enable(ctx context.Context, name string) error {
	if err := c.Host.EnableService(ctx, name); err != nil {
		return err
	}
	c.state = StateEnabled
	return nil
}

// Start starts the service now.
func (c *Controller) Start(ctx context.Context, name string) error {
	if err := c.Host.StartService(ctx, name); err != nil {
		return err
	}
	c.state = StateStarted
	return nil
}

// Verify waits the settle delay and queries the supervisor once. A
// stopped service is reported through the returned state, not an error;
// only a failure to wait or to ask is an error.
func (c *Controller) Verify(ctx context.Context, name string) (State, error) {
	sleep := c.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	if c.Settle > 0 {
		c.Log.Info().Dur("settle", c.Settle).Msg("waiting before checking service state")
		if err := sleep(ctx, c.Settle); err != nil {
			return c.State(), err
		}
	}
	active, err := c.Host.IsActive(ctx, name)
	if err != nil {
		return c.State(), fmt.Errorf("query %s state: %w", name, err)
	}
	if active {
		c.state = StateRunning
	} else {
		c.state = StateStopped
	}
	return c.state, nil
}

// Remediation lists commands an operator can use to diagnose a stopped
// service.
func Remediation(req *resolve.Request) []string {
	name := req.Profile.ServiceName()
	return []string{
		"systemctl status " + name,
		"journalctl -u " + name + " -n 50 --no-pager",
		"ls -lt " + req.LogDir(),
		"systemctl restart " + name,
	}
}

// WarnStopped logs the stopped-service warning with remediation hints.
func WarnStopped(log zerolog.Logger, req *resolve.Request) {
	ev := log.Warn().Str("service", req.Profile.ServiceName())
	for i, cmd := range Remediation(req) {
		ev = ev.Str(fmt.Sprintf("try_%d", i+1), cmd)
	}
	ev.Msg("service is not running after start; installation is complete but the agent is down")
}

// TestCommand returns the post-install test argv, or nil when no test
// collaborator is available for this install.
func (c *Controller) TestCommand(req *resolve.Request) []string {
	if c.PostInstallTest != "" {
		return append(strings.Fields(c.PostInstallTest), string(req.Profile.ID), req.InstallDir)
	}
	smoke := filepath.Join(req.InstallDir, "tests", "smoke.sh")
	if fi, err := os.Stat(smoke); err == nil && !fi.IsDir() {
		return []string{"bash", smoke, string(req.Profile.ID), req.InstallDir}
	}
	return nil
}

// RunPostInstallTest runs the test collaborator when one is available. Any
// failure is returned; a missing collaborator is logged and skipped.
func (c *Controller) RunPostInstallTest(ctx context.Context, req *resolve.Request) error {
	argv := c.TestCommand(req)
	if argv == nil {
		c.Log.Info().Msg("no post-install test available, skipping")
		return nil
	}
	env := req.EnvVars()
	env["PERSONA_PROFILE"] = string(req.Profile.ID)
	env["PERSONA_VARIANT"] = string(req.Variant)
	env["PERSONA_INSTALL_DIR"] = req.InstallDir
	if err := c.Host.RunTest(ctx, argv, req.InstallDir, env); err != nil {
		return fmt.Errorf("post-install test: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
