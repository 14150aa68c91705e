// Package hosttest provides an in-memory host for tests.
package hosttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"personactl/internal/host"
)

// Fake records every call and never touches the machine.
type Fake struct {
	mu sync.Mutex
	// Calls holds one "Method arg..." line per call, in order.
	Calls []string
	// Fail maps a method name to the error it returns.
	Fail map[string]error
	// Active is what IsActive reports.
	Active bool
	// Units holds registered descriptors by name.
	Units map[string]string
	// Enabled and Started track supervisor state by unit name.
	Enabled map[string]bool
	Started map[string]bool
	// Tests records post-install test invocations.
	Tests [][]string
}

// New returns a Fake that reports services as active.
func New() *Fake {
	return &Fake{
		Fail:    map[string]error{},
		Active:  true,
		Units:   map[string]string{},
		Enabled: map[string]bool{},
		Started: map[string]bool{},
	}
}

var _ host.Host = (*Fake)(nil)

func (f *Fake) record(method string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, strings.TrimSpace(method+" "+strings.Join(args, " ")))
	return f.Fail[method]
}

// Methods returns the method names called, in order.
func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		m, _, _ := strings.Cut(c, " ")
		out = append(out, m)
	}
	return out
}

// Called reports whether method was invoked at least once.
func (f *Fake) Called(method string) bool {
	for _, m := range f.Methods() {
		if m == method {
			return true
		}
	}
	return false
}

func (f *Fake) InstallPackages(ctx context.Context, pkgs []string) error {
	return f.record("InstallPackages", pkgs...)
}

func (f *Fake) CreateVenv(ctx context.Context, dir string) error {
	return f.record("CreateVenv", dir)
}

func (f *Fake) InstallPythonPackages(ctx context.Context, venv string, pkgs []string) error {
	return f.record("InstallPythonPackages", append([]string{venv}, pkgs...)...)
}

func (f *Fake) RunInVenv(ctx context.Context, venv, dir string, argv []string) error {
	return f.record("RunInVenv", append([]string{venv}, argv...)...)
}

func (f *Fake) FetchDriver(ctx context.Context, d host.Driver, destDir string) error {
	return f.record("FetchDriver", d.Name, d.Version, d.Arch, destDir)
}

func (f *Fake) EnsureModelRuntime(ctx context.Context, rt, model string) error {
	return f.record("EnsureModelRuntime", rt, model)
}

func (f *Fake) RegisterService(ctx context.Context, u host.Unit) error {
	if err := f.record("RegisterService", u.Name); err != nil {
		return err
	}
	f.mu.Lock()
	f.Units[u.Name] = u.Content
	f.mu.Unlock()
	return nil
}

func (f *Fake) EnableService(ctx context.Context, name string) error {
	if err := f.record("EnableService", name); err != nil {
		return err
	}
	f.mu.Lock()
	f.Enabled[name] = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) StartService(ctx context.Context, name string) error {
	if err := f.record("StartService", name); err != nil {
		return err
	}
	f.mu.Lock()
	f.Started[name] = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) IsActive(ctx context.Context, name string) (bool, error) {
	if err := f.record("IsActive", name); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Active && f.Started[name], nil
}

func (f *Fake) RunTest(ctx context.Context, argv []string, dir string, env map[string]string) error {
	if err := f.record("RunTest", argv...); err != nil {
		return err
	}
	f.mu.Lock()
	f.Tests = append(f.Tests, append([]string(nil), argv...))
	f.mu.Unlock()
	return nil
}

// CommandFailure builds the error a real host returns for a failed command.
func CommandFailure(status int, argv ...string) error {
	return &host.CommandError{Argv: argv, ExitStatus: status, Err: fmt.Errorf("exit status %d", status)}
}
