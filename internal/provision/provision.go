// Package provision prepares the install directory tree and the isolated
// runtime environment for a profile. Dependency installation runs on every
// install; there is no already-installed short circuit.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"personactl/internal/host"
	"personactl/internal/pipeline"
	"personactl/internal/resolve"
)

// Provisioner drives the host collaborators for one request.
type Provisioner struct {
	Host host.Host
	// DriverVersion overrides the profile's pinned driver version.
	DriverVersion string
	Log           zerolog.Logger
	// Arch defaults to runtime.GOARCH.
	Arch string
}

// Directories creates the install tree. Existing directories are fine.
func (p *Provisioner) Directories(req *resolve.Request) error {
	for _, dir := range []string{req.InstallDir, req.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Steps returns the provisioning steps that apply to req, in order.
func (p *Provisioner) Steps(req *resolve.Request) []pipeline.Step {
	prof := req.Profile
	venv := req.VenvDir()
	steps := []pipeline.Step{
		{Name: "create directories", Run: func(ctx context.Context) error {
			return p.Directories(req)
		}},
		{Name: "install native packages", Run: func(ctx context.Context) error {
			p.Log.Info().Strs("packages", prof.NativePackages).Msg("installing native packages")
			return p.Host.InstallPackages(ctx, prof.NativePackages)
		}},
		{Name: "create runtime environment", Run: func(ctx context.Context) error {
			return p.Host.CreateVenv(ctx, venv)
		}},
		{Name: "install runtime packages", Run: func(ctx context.Context) error {
			p.Log.Info().Strs("packages", prof.RuntimePackages).Msg("installing runtime packages")
			return p.Host.InstallPythonPackages(ctx, venv, prof.RuntimePackages)
		}},
	}
	for _, hook := range prof.Hooks {
		argv := hook
		steps = append(steps, pipeline.Step{
			Name: "run " + strings.Join(argv, " "),
			Run: func(ctx context.Context) error {
				return p.Host.RunInVenv(ctx, venv, req.InstallDir, argv)
			},
		})
	}
	if prof.Driver != nil {
		d := host.Driver{Name: prof.Driver.Name, Version: prof.Driver.Version, Arch: p.Arch}
		if p.DriverVersion != "" {
			d.Version = p.DriverVersion
		}
		if d.Arch == "" {
			d.Arch = runtime.GOARCH
		}
		steps = append(steps, pipeline.Step{
			Name: "fetch " + d.Name,
			Run: func(ctx context.Context) error {
				dest := filepath.Join(venv, "bin")
				if err := os.MkdirAll(dest, 0o755); err != nil {
					return err
				}
				return p.Host.FetchDriver(ctx, d, dest)
			},
		})
	}
	if prof.RequiresModelRuntime() {
		steps = append(steps, pipeline.Step{
			Name: "ensure model runtime",
			Run: func(ctx context.Context) error {
				p.Log.Info().Str("runtime", prof.ModelRuntime).Str("model", req.Model()).Msg("ensuring model is available")
				return p.Host.EnsureModelRuntime(ctx, prof.ModelRuntime, req.Model())
			},
		})
	}
	return steps
}
