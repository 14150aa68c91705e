package resolve

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"personactl/internal/profile"
)

var defs = Defaults{Root: "/opt/persona"}

func mustParse(t *testing.T, tokens ...string) *Request {
	t.Helper()
	req, err := Parse(tokens, defs)
	if err != nil {
		t.Fatalf("parse %v: %v", tokens, err)
	}
	return req
}

func expectUsage(t *testing.T, wantSubstr string, tokens ...string) {
	t.Helper()
	_, err := Parse(tokens, defs)
	var ue *UsageError
	if !errors.As(err, &ue) {
		t.Fatalf("%v: expected usage error, got %v", tokens, err)
	}
	if !strings.Contains(ue.Error(), wantSubstr) {
		t.Fatalf("%v: error %q does not mention %q", tokens, ue.Error(), wantSubstr)
	}
}

func TestParse_AllDeclaredPairsResolve(t *testing.T) {
	for _, p := range profile.All() {
		variants := p.VariantNames()
		if len(variants) == 0 {
			variants = []string{""}
		}
		for _, v := range variants {
			tokens := []string{"--profile=" + string(p.ID)}
			if v != "" {
				tokens = append(tokens, "--variant="+v)
			}
			a := mustParse(t, tokens...)
			b := mustParse(t, tokens...)
			if a.InstallDir != b.InstallDir || a.InstallDir != filepath.Join("/opt/persona", string(p.ID)) {
				t.Fatalf("install dir not deterministic: %s vs %s", a.InstallDir, b.InstallDir)
			}
			if string(a.Variant) != v {
				t.Fatalf("variant %q, want %q", a.Variant, v)
			}
		}
	}
}

func TestParse_PositionalForm(t *testing.T) {
	req := mustParse(t, "smol", "mchp-like")
	if req.Profile.ID != profile.SMOL || req.Variant != profile.VariantMCHPLike {
		t.Fatalf("got %s", req.Label())
	}
}

func TestParse_ModelResolutionOrder(t *testing.T) {
	req := mustParse(t, "--profile=bu", "--variant=default")
	if req.Model() != profile.DefaultModel {
		t.Fatalf("declared default expected, got %q", req.Model())
	}
	req, err := Parse([]string{"--profile=bu", "--variant=default"}, Defaults{Root: "/r", Model: "mistral:7b"})
	if err != nil || req.Model() != "mistral:7b" {
		t.Fatalf("configured default expected: %v %q", err, req.Model())
	}
	req, err = Parse([]string{"--profile=bu", "--variant=default", "--param:model=qwen2.5:7b"}, Defaults{Root: "/r", Model: "mistral:7b"})
	if err != nil || req.Model() != "qwen2.5:7b" {
		t.Fatalf("override expected: %v %q", err, req.Model())
	}
	// any string is accepted
	req = mustParse(t, "bu", "improved", "--param:model=not/a:real-model@@")
	if req.Model() != "not/a:real-model@@" {
		t.Fatalf("got %q", req.Model())
	}
}

func TestParse_EnvVars(t *testing.T) {
	req := mustParse(t, "smol", "default", "--param:model=qwen2.5:7b")
	if got := req.SortedEnv(); len(got) != 1 || got[0] != "LITELLM_MODEL=ollama/qwen2.5:7b" {
		t.Fatalf("got %v", got)
	}
	m := mustParse(t, "mchp")
	if len(m.EnvVars()) != 0 || m.Model() != "" {
		t.Fatalf("mchp has no params: %v", m.EnvVars())
	}
}

func TestParse_UsageErrors(t *testing.T) {
	expectUsage(t, "profile is required")
	expectUsage(t, "unknown profile", "--profile=agent")
	expectUsage(t, "valid: default, mchp-like, improved", "--profile=bu", "--variant=bogus")
	expectUsage(t, "requires a variant", "--profile=smol")
	expectUsage(t, "has no variants", "--profile=mchp", "--variant=default")
	expectUsage(t, "malformed override", "--profile=bu", "--variant=default", "--param:model")
	expectUsage(t, "malformed override", "--profile=bu", "--variant=default", "--param:model=")
	expectUsage(t, "malformed override", "--profile=bu", "--variant=default", "--param:=x")
	expectUsage(t, "unknown parameter", "--profile=bu", "--variant=default", "--param:temperature=1")
	expectUsage(t, "accepts no parameters", "--profile=mchp", "--param:model=x")
	expectUsage(t, "more than once", "--profile=bu", "--profile=smol")
	expectUsage(t, "more than once", "bu", "default", "--param:model=a", "--param:model=b")
	expectUsage(t, "unknown option", "--profile=bu", "--variant=default", "--color=red")
	expectUsage(t, "unknown option", "-profile=bu")
	expectUsage(t, "unknown option", "---profile=bu")
	expectUsage(t, "unknown option", "mchp", "--")
	expectUsage(t, "requires a value", "--profile")
	expectUsage(t, "unexpected argument", "bu", "default", "extra")
	expectUsage(t, "invalid --settle", "mchp", "--settle=soon")
	expectUsage(t, "takes no value", "mchp", "--dry-run=yes")
}

func TestParse_Help(t *testing.T) {
	if _, err := Parse([]string{"--profile=bogus", "--help"}, defs); !errors.Is(err, ErrHelp) {
		t.Fatalf("help should win over other errors, got %v", err)
	}
}

func TestParse_Options(t *testing.T) {
	req := mustParse(t, "mchp", "--root=rel/root", "--payload=/p", "--user=sim", "--dry-run", "--settle=0s", "--log-level=debug")
	abs, _ := filepath.Abs("rel/root")
	if req.Root != abs || req.InstallDir != filepath.Join(abs, "mchp") {
		t.Fatalf("root not absolutised: %s", req.Root)
	}
	o := req.Options
	if o.PayloadDir != "/p" || o.User != "sim" || !o.DryRun || o.Settle == nil || *o.Settle != 0*time.Second || o.LogLevel != "debug" {
		t.Fatalf("options: %+v", o)
	}
	if req.RunScript() != filepath.Join(abs, "mchp", "run_mchp.sh") || req.Label() != "mchp" {
		t.Fatalf("paths: %s %s", req.RunScript(), req.Label())
	}
}

func TestWriteUsage_ListsVariants(t *testing.T) {
	var buf bytes.Buffer
	WriteUsage(&buf)
	out := buf.String()
	for _, want := range []string{"mchp", "bu", "smol", "default, mchp-like, improved", "--param:model"} {
		if !strings.Contains(out, want) {
			t.Fatalf("usage missing %q:\n%s", want, out)
		}
	}
}
