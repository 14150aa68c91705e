package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type recorder struct {
	cmds []Cmd
	out  map[string]string
	fail map[string]error
	// onRun sees each command while it runs.
	onRun func(Cmd)
}

func (r *recorder) run(ctx context.Context, c Cmd) (string, error) {
	r.cmds = append(r.cmds, c)
	if r.onRun != nil {
		r.onRun(c)
	}
	key := strings.Join(c.Argv(), " ")
	return r.out[key], r.fail[key]
}

func (r *recorder) lines() []string {
	var out []string
	for _, c := range r.cmds {
		out = append(out, strings.Join(c.Argv(), " "))
	}
	return out
}

func newTestExec(t *testing.T, rec *recorder) *Exec {
	t.Helper()
	e := New(Options{UnitDir: t.TempDir(), Logger: zerolog.Nop()})
	e.sudo = false
	e.run = rec.run
	e.ollamaInstalled = func() bool { return true }
	return e
}

func TestInstallPackages_UpdatesThenInstalls(t *testing.T) {
	rec := &recorder{}
	e := newTestExec(t, rec)
	if err := e.InstallPackages(context.Background(), []string{"python3", "xvfb"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	want := []string{"apt-get update", "apt-get install -y --no-install-recommends python3 xvfb"}
	if !reflect.DeepEqual(rec.lines(), want) {
		t.Fatalf("got %v", rec.lines())
	}
	if rec.cmds[1].Env["DEBIAN_FRONTEND"] != "noninteractive" {
		t.Fatalf("apt env missing")
	}
	// empty set is a no-op
	rec.cmds = nil
	if err := e.InstallPackages(context.Background(), nil); err != nil || len(rec.cmds) != 0 {
		t.Fatalf("expected no-op, got %v %v", err, rec.lines())
	}
}

func TestInstallPackages_StopsOnUpdateFailure(t *testing.T) {
	boom := &CommandError{Argv: []string{"apt-get", "update"}, ExitStatus: 100, Err: errors.New("exit status 100")}
	rec := &recorder{fail: map[string]error{"apt-get update": boom}}
	e := newTestExec(t, rec)
	err := e.InstallPackages(context.Background(), []string{"curl"})
	if !errors.Is(err, boom) || len(rec.cmds) != 1 {
		t.Fatalf("expected update failure only, got %v %v", err, rec.lines())
	}
	if ExitStatusOf(err) != 100 || CommandOf(err) != "apt-get update" {
		t.Fatalf("status/command: %d %q", ExitStatusOf(err), CommandOf(err))
	}
}

func TestPrivilegedUsesSudo(t *testing.T) {
	rec := &recorder{}
	e := newTestExec(t, rec)
	e.sudo = true
	_ = e.EnableService(context.Background(), "persona-bu.service")
	if got := rec.lines(); len(got) != 1 || got[0] != "sudo systemctl enable persona-bu.service" {
		t.Fatalf("got %v", got)
	}
}

func TestPythonCommands(t *testing.T) {
	rec := &recorder{}
	e := newTestExec(t, rec)
	ctx := context.Background()
	if err := e.CreateVenv(ctx, "/opt/p/bu/venv"); err != nil {
		t.Fatal(err)
	}
	if err := e.InstallPythonPackages(ctx, "/opt/p/bu/venv", []string{"browser-use"}); err != nil {
		t.Fatal(err)
	}
	if err := e.RunInVenv(ctx, "/opt/p/bu/venv", "/opt/p/bu", []string{"playwright", "install", "chromium"}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"python3 -m venv /opt/p/bu/venv",
		"/opt/p/bu/venv/bin/pip install --upgrade pip",
		"/opt/p/bu/venv/bin/pip install browser-use",
		"/opt/p/bu/venv/bin/playwright install chromium",
	}
	if !reflect.DeepEqual(rec.lines(), want) {
		t.Fatalf("got %v", rec.lines())
	}
	last := rec.cmds[3]
	if last.Env["VIRTUAL_ENV"] != "/opt/p/bu/venv" || !strings.HasPrefix(last.Env["PATH"], "/opt/p/bu/venv/bin") {
		t.Fatalf("venv env not set: %v", last.Env)
	}
	if err := e.RunInVenv(ctx, "/v", "", nil); err == nil {
		t.Fatalf("expected error for empty argv")
	}
}

func TestDriverURL(t *testing.T) {
	u, err := DriverURL(Driver{Name: "geckodriver", Version: "v0.34.0", Arch: "arm64"})
	if err != nil {
		t.Fatal(err)
	}
	if u != "https://github.com/mozilla/geckodriver/releases/download/v0.34.0/geckodriver-v0.34.0-linux-aarch64.tar.gz" {
		t.Fatalf("url: %s", u)
	}
	if _, err := DriverURL(Driver{Name: "geckodriver", Version: "v0.34.0", Arch: "mips"}); err == nil {
		t.Fatalf("expected unsupported arch")
	}
	if _, err := DriverURL(Driver{Name: "chromedriver"}); err == nil {
		t.Fatalf("expected unknown driver")
	}
}

func TestFetchDriver(t *testing.T) {
	rec := &recorder{}
	e := newTestExec(t, rec)
	if err := e.FetchDriver(context.Background(), Driver{Name: "geckodriver", Version: "v0.34.0", Arch: "amd64"}, "/opt/p/mchp/venv/bin"); err != nil {
		t.Fatal(err)
	}
	got := rec.lines()
	if len(got) != 2 || !strings.HasPrefix(got[0], "curl -fsSL -o ") || !strings.HasSuffix(got[1], "-C /opt/p/mchp/venv/bin") {
		t.Fatalf("got %v", got)
	}
}

func TestEnsureModelRuntime(t *testing.T) {
	rec := &recorder{}
	e := newTestExec(t, rec)
	if err := e.EnsureModelRuntime(context.Background(), "ollama", "qwen2.5:7b"); err != nil {
		t.Fatal(err)
	}
	if got := rec.lines(); len(got) != 1 || got[0] != "ollama pull qwen2.5:7b" {
		t.Fatalf("got %v", got)
	}
	rec.cmds = nil
	e.ollamaInstalled = func() bool { return false }
	_ = e.EnsureModelRuntime(context.Background(), "ollama", "m")
	if got := rec.lines(); len(got) != 2 || got[0] != "sh -c curl -fsSL https://ollama.com/install.sh | sh" {
		t.Fatalf("got %v", got)
	}
	if err := e.EnsureModelRuntime(context.Background(), "vllm", "m"); err == nil {
		t.Fatalf("expected unsupported runtime")
	}
}

func TestRegisterService_WritesUnitAndReloads(t *testing.T) {
	rec := &recorder{}
	e := newTestExec(t, rec)
	if err := e.RegisterService(context.Background(), Unit{Name: "persona-bu.service", Content: "[Unit]\n"}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(e.unitDir, "persona-bu.service"))
	if err != nil || string(b) != "[Unit]\n" {
		t.Fatalf("unit file: %q %v", b, err)
	}
	if got := rec.lines(); len(got) != 1 || got[0] != "systemctl daemon-reload" {
		t.Fatalf("got %v", got)
	}
}

func TestRegisterService_SudoInstallsThroughRunner(t *testing.T) {
	var staged string
	rec := &recorder{}
	rec.onRun = func(c Cmd) {
		if c.Path == "sudo" && len(c.Args) > 0 && c.Args[0] == "install" {
			b, err := os.ReadFile(c.Args[len(c.Args)-2])
			if err != nil {
				t.Errorf("staged unit: %v", err)
			}
			staged = string(b)
		}
	}
	e := newTestExec(t, rec)
	e.sudo = true
	if err := e.RegisterService(context.Background(), Unit{Name: "persona-bu.service", Content: "[Unit]\n"}); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(e.unitDir, "persona-bu.service")
	got := rec.lines()
	if len(got) != 2 || !strings.HasPrefix(got[0], "sudo install -m 0644 ") || !strings.HasSuffix(got[0], " "+dest) || got[1] != "sudo systemctl daemon-reload" {
		t.Fatalf("got %v", got)
	}
	if staged != "[Unit]\n" {
		t.Fatalf("staged content %q", staged)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("unit written directly instead of through sudo: %v", err)
	}
	if _, err := os.Stat(rec.cmds[0].Args[len(rec.cmds[0].Args)-2]); !os.IsNotExist(err) {
		t.Fatalf("staged file left behind: %v", err)
	}
}

func TestIsActive(t *testing.T) {
	exit3 := func(name string) error {
		return &CommandError{Argv: []string{"systemctl", "is-active", name}, ExitStatus: 3, Err: errors.New("exit status 3")}
	}
	rec := &recorder{out: map[string]string{
		"systemctl is-active a": "active\n",
		"systemctl is-active b": "activating\n",
		"systemctl is-active x": "inactive\n",
	}}
	rec.fail = map[string]error{
		"systemctl is-active b":    exit3("b"),
		"systemctl is-active x":    exit3("x"),
		"systemctl is-active gone": errors.New("exec: not found"),
	}
	e := newTestExec(t, rec)
	ctx := context.Background()
	for name, want := range map[string]bool{"a": true, "b": true, "x": false} {
		got, err := e.IsActive(ctx, name)
		if err != nil || got != want {
			t.Fatalf("%s: got %v err=%v", name, got, err)
		}
	}
	if _, err := e.IsActive(ctx, "gone"); err == nil {
		t.Fatalf("expected error when systemctl cannot run")
	}
}

func TestDryRunNeverWritesUnit(t *testing.T) {
	dir := t.TempDir()
	e := New(Options{UnitDir: dir, DryRun: true, Logger: zerolog.Nop()})
	ctx := context.Background()
	if err := e.RegisterService(ctx, Unit{Name: "persona-bu.service", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "persona-bu.service")); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote unit: %v", err)
	}
	if err := e.InstallPackages(ctx, []string{"curl"}); err != nil {
		t.Fatal(err)
	}
	if active, err := e.IsActive(ctx, "persona-bu.service"); err != nil || active {
		t.Fatalf("dry run active=%v err=%v", active, err)
	}
}

func TestExecRunner_CapturesStatusAndOutput(t *testing.T) {
	run := ExecRunner(zerolog.Nop())
	out, err := run(context.Background(), Cmd{Path: "sh", Args: []string{"-c", "echo hello; echo oops >&2; exit 7"}})
	if err == nil {
		t.Fatalf("expected failure")
	}
	var ce *CommandError
	if !errors.As(err, &ce) || ce.ExitStatus != 7 {
		t.Fatalf("expected exit 7, got %v", err)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "oops") {
		t.Fatalf("output not captured: %q", out)
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Fatalf("error should carry output tail: %v", err)
	}
	out, err = run(context.Background(), Cmd{Path: "sh", Args: []string{"-c", "echo $FOO"}, Env: map[string]string{"FOO": "bar"}})
	if err != nil || strings.TrimSpace(out) != "bar" {
		t.Fatalf("env not passed: %q %v", out, err)
	}
}

func TestCmdString(t *testing.T) {
	c := Cmd{Path: "sh", Args: []string{"-c", "a | b", "it's"}}
	if got := c.String(); got != `sh -c 'a | b' 'it'\''s'` {
		t.Fatalf("got %s", got)
	}
	if ExitStatusOf(errors.New("plain")) != 1 || CommandOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors map to status 1 and no command")
	}
}
