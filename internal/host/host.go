// Package host abstracts the machine-global capabilities the installer
// drives: the native package manager, the Python environment tooling, the
// automation driver download, the local model runtime, and the service
// supervisor. Everything here mutates shared host state without locking;
// callers serialize installs themselves.
package host

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// Unit is a service descriptor ready for the supervisor.
type Unit struct {
	Name    string
	Content string
}

// Driver identifies a versioned automation binary.
type Driver struct {
	Name    string
	Version string
	Arch    string // GOARCH value
}

// Host is the set of external collaborators the install pipeline needs.
type Host interface {
	InstallPackages(ctx context.Context, pkgs []string) error
	CreateVenv(ctx context.Context, dir string) error
	InstallPythonPackages(ctx context.Context, venv string, pkgs []string) error
	RunInVenv(ctx context.Context, venv, dir string, argv []string) error
	FetchDriver(ctx context.Context, d Driver, destDir string) error
	EnsureModelRuntime(ctx context.Context, runtime, model string) error

	RegisterService(ctx context.Context, u Unit) error
	EnableService(ctx context.Context, name string) error
	StartService(ctx context.Context, name string) error
	IsActive(ctx context.Context, name string) (bool, error)

	// RunTest runs an external post-install test command.
	RunTest(ctx context.Context, argv []string, dir string, env map[string]string) error
}

// Options configures an Exec host.
type Options struct {
	UnitDir string
	Python  string
	DryRun  bool
	Logger  zerolog.Logger
}

// Exec drives the real host through external commands.
type Exec struct {
	unitDir string
	python  string
	dryRun  bool
	sudo    bool
	log     zerolog.Logger
	run     Runner
	// ollamaInstalled reports whether the ollama CLI is on PATH.
	ollamaInstalled func() bool
}

// New returns an Exec host. With DryRun set every command is logged instead
// of executed and no supervisor state is written.
func New(opts Options) *Exec {
	e := &Exec{
		unitDir: opts.UnitDir,
		python:  opts.Python,
		dryRun:  opts.DryRun,
		log:     opts.Logger,
		ollamaInstalled: func() bool {
			_, err := exec.LookPath("ollama")
			return err == nil
		},
	}
	if e.unitDir == "" {
		e.unitDir = "/etc/systemd/system"
	}
	if e.python == "" {
		e.python = "python3"
	}
	if os.Geteuid() != 0 {
		if _, err := exec.LookPath("sudo"); err == nil {
			e.sudo = true
		}
	}
	if opts.DryRun {
		e.run = dryRunner(opts.Logger)
	} else {
		e.run = ExecRunner(opts.Logger)
	}
	return e
}

func dryRunner(log zerolog.Logger) Runner {
	return func(ctx context.Context, c Cmd) (string, error) {
		log.Info().Str("dir", c.Dir).Msgf("dry-run: %s", c)
		return "", nil
	}
}

// privileged prefixes sudo when not root and sudo is available.
func (e *Exec) privileged(name string, args ...string) Cmd {
	if e.sudo {
		return Cmd{Path: "sudo", Args: append([]string{name}, args...)}
	}
	return Cmd{Path: name, Args: args}
}

func (e *Exec) do(ctx context.Context, c Cmd) error {
	_, err := e.run(ctx, c)
	return err
}

// InstallPackages installs native packages with apt-get.
func (e *Exec) InstallPackages(ctx context.Context, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}
	env := map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
	upd := e.privileged("apt-get", "update")
	upd.Env = env
	if err := e.do(ctx, upd); err != nil {
		return err
	}
	inst := e.privileged("apt-get", append([]string{"install", "-y", "--no-install-recommends"}, pkgs...)...)
	inst.Env = env
	return e.do(ctx, inst)
}

// CreateVenv creates (or upgrades in place) a Python virtual environment.
func (e *Exec) CreateVenv(ctx context.Context, dir string) error {
	return e.do(ctx, Cmd{Path: e.python, Args: []string{"-m", "venv", dir}})
}

// InstallPythonPackages pip-installs pkgs into venv.
func (e *Exec) InstallPythonPackages(ctx context.Context, venv string, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}
	pip := filepath.Join(venv, "bin", "pip")
	if err := e.do(ctx, Cmd{Path: pip, Args: []string{"install", "--upgrade", "pip"}}); err != nil {
		return err
	}
	return e.do(ctx, Cmd{Path: pip, Args: append([]string{"install"}, pkgs...)})
}

// RunInVenv runs argv with venv's bin directory first on PATH.
func (e *Exec) RunInVenv(ctx context.Context, venv, dir string, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("run in venv: empty command")
	}
	bin := filepath.Join(venv, "bin")
	return e.do(ctx, Cmd{
		Path: filepath.Join(bin, argv[0]),
		Args: argv[1:],
		Dir:  dir,
		Env: map[string]string{
			"VIRTUAL_ENV": venv,
			"PATH":        bin + string(os.PathListSeparator) + os.Getenv("PATH"),
		},
	})
}

// DriverURL returns the release asset URL for d.
func DriverURL(d Driver) (string, error) {
	switch d.Name {
	case "geckodriver":
		var plat string
		switch d.Arch {
		case "amd64":
			plat = "linux64"
		case "arm64":
			plat = "linux-aarch64"
		case "386":
			plat = "linux32"
		default:
			return "", fmt.Errorf("geckodriver: unsupported architecture %q", d.Arch)
		}
		return fmt.Sprintf("https://github.com/mozilla/geckodriver/releases/download/%s/geckodriver-%s-%s.tar.gz", d.Version, d.Version, plat), nil
	default:
		return "", fmt.Errorf("unknown driver %q", d.Name)
	}
}

// FetchDriver downloads and unpacks d into destDir.
func (e *Exec) FetchDriver(ctx context.Context, d Driver, destDir string) error {
	if d.Arch == "" {
		d.Arch = runtime.GOARCH
	}
	url, err := DriverURL(d)
	if err != nil {
		return err
	}
	tmp := filepath.Join(os.TempDir(), filepath.Base(url))
	e.log.Info().Str("url", url).Msg("downloading driver")
	if err := e.do(ctx, Cmd{Path: "curl", Args: []string{"-fsSL", "-o", tmp, url}}); err != nil {
		return err
	}
	defer os.Remove(tmp)
	return e.do(ctx, Cmd{Path: "tar", Args: []string{"-xzf", tmp, "-C", destDir}})
}

// EnsureModelRuntime installs the runtime when missing and pulls model.
func (e *Exec) EnsureModelRuntime(ctx context.Context, rt, model string) error {
	if rt != "ollama" {
		return fmt.Errorf("unsupported model runtime %q", rt)
	}
	if !e.dryRun && !e.ollamaInstalled() {
		e.log.Info().Msg("ollama not found, installing")
		if err := e.do(ctx, Cmd{Path: "sh", Args: []string{"-c", "curl -fsSL https://ollama.com/install.sh | sh"}}); err != nil {
			return err
		}
	}
	return e.do(ctx, Cmd{Path: "ollama", Args: []string{"pull", model}})
}

// RegisterService writes the unit file and reloads the supervisor.
func (e *Exec) RegisterService(ctx context.Context, u Unit) error {
	path := filepath.Join(e.unitDir, u.Name)
	switch {
	case e.dryRun:
		e.log.Info().Str("path", path).Msg("dry-run: would write service unit")
	case e.sudo:
		if err := e.installFile(ctx, path, u.Content); err != nil {
			return err
		}
	default:
		if err := os.WriteFile(path, []byte(u.Content), 0o644); err != nil {
			return fmt.Errorf("write unit %s: %w", path, err)
		}
	}
	return e.do(ctx, e.privileged("systemctl", "daemon-reload"))
}

// installFile stages content in a temp file and copies it into place with
// a privileged install(1).
func (e *Exec) installFile(ctx context.Context, path, content string) error {
	f, err := os.CreateTemp("", "persona-unit-*")
	if err != nil {
		return fmt.Errorf("stage unit %s: %w", path, err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("stage unit %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("stage unit %s: %w", path, err)
	}
	return e.do(ctx, e.privileged("install", "-m", "0644", f.Name(), path))
}

func (e *Exec) EnableService(ctx context.Context, name string) error {
	return e.do(ctx, e.privileged("systemctl", "enable", name))
}

// StartService (re)starts name so a reinstall picks up new artifacts.
func (e *Exec) StartService(ctx context.Context, name string) error {
	return e.do(ctx, e.privileged("systemctl", "restart", name))
}

// IsActive reports whether the unit is active or activating. is-active
// exits non-zero for everything but active, so the printed state is read
// first. An inactive unit is not an error; only a failure to ask is.
func (e *Exec) IsActive(ctx context.Context, name string) (bool, error) {
	if e.dryRun {
		e.log.Info().Msgf("dry-run: systemctl is-active %s", name)
		return false, nil
	}
	out, err := e.run(ctx, Cmd{Path: "systemctl", Args: []string{"is-active", name}})
	switch strings.TrimSpace(out) {
	case "active", "activating":
		return true, nil
	}
	if err != nil {
		if ce, ok := err.(*CommandError); ok && ce.ExitStatus > 0 {
			return false, nil
		}
		return false, err
	}
	return false, nil
}

func (e *Exec) RunTest(ctx context.Context, argv []string, dir string, env map[string]string) error {
	if len(argv) == 0 {
		return fmt.Errorf("post-install test: empty command")
	}
	return e.do(ctx, Cmd{Path: argv[0], Args: argv[1:], Dir: dir, Env: env})
}
