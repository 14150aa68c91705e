package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "root: /srv/persona\npayload_dir: /p\nsettle_seconds: 3\nmodel: m1\ndry_run: true\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Root != "/srv/persona" || cfg.PayloadDir != "/p" || cfg.SettleSeconds != 3 || cfg.Model != "m1" || !cfg.DryRun {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"root":"/r","unit_dir":"/u","restart_seconds":4,"user":"sim"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Root != "/r" || cfg.UnitDir != "/u" || cfg.RestartSeconds != 4 || cfg.User != "sim" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "root=\"/x\"\ndriver_version=\"v0.33.0\"\nmetrics_textfile=\"/m.prom\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Root != "/x" || cfg.DriverVersion != "v0.33.0" || cfg.MetricsTextfile != "/m.prom" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	bad := writeTempFile(t, d, "bad.yaml", "root: [unterminated")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}

func mapLookup(m map[string]string) Lookup {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestResolve_LayerOrder(t *testing.T) {
	d := t.TempDir()
	file := writeTempFile(t, d, "cfg.yaml", "root: /from-file\nmodel: file-model\nsettle_seconds: 9\n")
	envFile := writeTempFile(t, d, "persona.env", "PERSONA_MODEL=envfile-model\nPERSONA_UNIT_DIR=/envfile/units\n")
	cfg, err := Resolve(file, mapLookup(map[string]string{
		EnvEnvFile: envFile,
		EnvModel:   "env-model",
		EnvRoot:    "",
	}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Root != "/from-file" {
		t.Fatalf("empty env var must not clear file value, got %q", cfg.Root)
	}
	if cfg.Model != "env-model" {
		t.Fatalf("process env should win over env file, got %q", cfg.Model)
	}
	if cfg.UnitDir != "/envfile/units" {
		t.Fatalf("env file should win over defaults, got %q", cfg.UnitDir)
	}
	if cfg.SettleSeconds != 9 || cfg.RestartSeconds != 10 {
		t.Fatalf("unexpected delays: %+v", cfg)
	}
}

func TestResolve_DefaultsAndMissingDefaultEnvFile(t *testing.T) {
	cfg, err := Resolve("", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	def := Defaults()
	if cfg.Root != def.Root || cfg.UnitDir != def.UnitDir || cfg.Python != "python3" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestResolve_DefaultUserFromLookup(t *testing.T) {
	cases := []struct {
		env  map[string]string
		want string
	}{
		{map[string]string{"SUDO_USER": "alice", "USER": "root"}, "alice"},
		{map[string]string{"USER": "bob", "LOGNAME": "other"}, "bob"},
		{map[string]string{"LOGNAME": "carol"}, "carol"},
		{map[string]string{}, "root"},
		{map[string]string{"USER": "bob", EnvUser: "sim"}, "sim"},
	}
	for _, c := range cases {
		cfg, err := Resolve("", mapLookup(c.env))
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if cfg.User != c.want {
			t.Fatalf("env %v: user %q, want %q", c.env, cfg.User, c.want)
		}
	}
}

func TestResolve_Errors(t *testing.T) {
	if _, err := Resolve("", mapLookup(map[string]string{EnvEnvFile: filepath.Join(t.TempDir(), "missing.env")})); err == nil {
		t.Fatalf("explicit missing env file should fail")
	}
	if _, err := Resolve("", mapLookup(map[string]string{EnvConfig: "/nope/cfg.yaml"})); err == nil {
		t.Fatalf("missing config file should fail")
	}
	if _, err := Resolve("", mapLookup(map[string]string{EnvSettleSeconds: "soon"})); err == nil {
		t.Fatalf("invalid settle seconds should fail")
	}
}

func TestResolve_DryRunEnv(t *testing.T) {
	cfg, err := Resolve("", mapLookup(map[string]string{EnvDryRun: "yes"}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.DryRun {
		t.Fatalf("dry run not applied")
	}
}

func TestResolve_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	writeTempFile(t, home, "persona.env", "PERSONA_PAYLOAD_DIR=~/payload\n")
	cfg, err := Resolve("", mapLookup(map[string]string{
		"HOME":     home,
		EnvEnvFile: "~/persona.env",
		EnvRoot:    "~",
		EnvUnitDir: "/etc/systemd/system",
	}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Root != home || cfg.PayloadDir != filepath.Join(home, "payload") {
		t.Fatalf("home not expanded: %+v", cfg)
	}
	if cfg.UnitDir != "/etc/systemd/system" {
		t.Fatalf("absolute path changed: %q", cfg.UnitDir)
	}
	if got := expandHome("~user/x", mapLookup(map[string]string{"HOME": home})); got != "~user/x" {
		t.Fatalf("~user must be left alone, got %q", got)
	}
}
