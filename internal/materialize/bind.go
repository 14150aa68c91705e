package materialize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"personactl/internal/resolve"
)

// ConfigFileName is the structured parameter file written into every install.
const ConfigFileName = "persona.toml"

// AgentConfig is the structured record of what was installed and with
// which parameters.
type AgentConfig struct {
	Profile     string            `toml:"profile" json:"profile"`
	Variant     string            `toml:"variant,omitempty" json:"variant,omitempty"`
	InstallDir  string            `toml:"install_dir" json:"install_dir"`
	EntryPoint  string            `toml:"entry_point" json:"entry_point"`
	Service     string            `toml:"service" json:"service"`
	InstalledAt time.Time         `toml:"installed_at" json:"installed_at"`
	Params      map[string]string `toml:"params,omitempty" json:"params,omitempty"`
	Env         map[string]string `toml:"env,omitempty" json:"env,omitempty"`
}

// ReadAgentConfig loads the persona.toml found in installDir.
func ReadAgentConfig(installDir string) (AgentConfig, error) {
	var ac AgentConfig
	b, err := os.ReadFile(filepath.Join(installDir, ConfigFileName))
	if err != nil {
		return ac, err
	}
	if err := toml.Unmarshal(b, &ac); err != nil {
		return ac, fmt.Errorf("parse %s: %w", ConfigFileName, err)
	}
	return ac, nil
}

// BindResult reports what Bind changed.
type BindResult struct {
	ConfigPath string
	// Rewritten lists env variables whose payload default was replaced.
	Rewritten []string
}

// Bind writes persona.toml and rewrites the payload's inline defaults so
// the payload sees the resolved values even when started by hand.
func (m *Materializer) Bind(req *resolve.Request) (BindResult, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	ac := AgentConfig{
		Profile:     string(req.Profile.ID),
		Variant:     string(req.Variant),
		InstallDir:  req.InstallDir,
		EntryPoint:  req.Profile.EntryPoint,
		Service:     req.Profile.ServiceName(),
		InstalledAt: now().UTC().Truncate(time.Second),
		Params:      req.Params,
		Env:         req.EnvVars(),
	}
	b, err := toml.Marshal(ac)
	if err != nil {
		return BindResult{}, fmt.Errorf("encode %s: %w", ConfigFileName, err)
	}
	res := BindResult{ConfigPath: filepath.Join(req.InstallDir, ConfigFileName)}
	if err := os.WriteFile(res.ConfigPath, b, 0o644); err != nil {
		return res, fmt.Errorf("write %s: %w", ConfigFileName, err)
	}

	entry := filepath.Join(req.InstallDir, req.Profile.EntryPoint)
	src, err := os.ReadFile(entry)
	if errors.Is(err, os.ErrNotExist) {
		m.Log.Debug().Str("file", entry).Msg("entry point absent, skipping inline binding")
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read %s: %w", entry, err)
	}
	out := string(src)
	for key, val := range req.EnvVars() {
		next, n := substituteDefault(out, key, val)
		if n > 0 {
			res.Rewritten = append(res.Rewritten, key)
			out = next
		}
	}
	if len(res.Rewritten) == 0 {
		m.Log.Debug().Str("file", entry).Msg("no inline defaults to rewrite")
		return res, nil
	}
	sort.Strings(res.Rewritten)
	fi, err := os.Stat(entry)
	if err != nil {
		return res, err
	}
	if err := os.WriteFile(entry, []byte(out), fi.Mode().Perm()); err != nil {
		return res, fmt.Errorf("write %s: %w", entry, err)
	}
	m.Log.Info().Strs("vars", res.Rewritten).Str("file", entry).Msg("bound parameters into payload")
	return res, nil
}

// substituteDefault rewrites os.getenv("KEY", "<default>") so its default
// becomes value. It returns the new text and the number of replacements.
func substituteDefault(text, key, value string) (string, int) {
	re := regexp.MustCompile(`os\.getenv\(\s*["']` + regexp.QuoteMeta(key) + `["']\s*,\s*(?:"[^"\n]*"|'[^'\n]*')\s*\)`)
	n := len(re.FindAllStringIndex(text, -1))
	if n == 0 {
		return text, 0
	}
	repl := fmt.Sprintf(`os.getenv("%s", "%s")`, key, pyEscape(value))
	return re.ReplaceAllLiteralString(text, repl), n
}

func pyEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s)
}
