// Package unit renders the run script and the systemd service descriptor
// for a resolved install. Output depends only on its inputs.
package unit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"personactl/internal/host"
	"personactl/internal/resolve"
)

const runScriptTmpl = `#!/usr/bin/env bash
# Generated by personactl for {{.Label}}; overwritten on every install.
cd {{q .InstallDir}} || exit 1
source {{q .Activate}}
LOG_DIR={{q .LogDir}}
mkdir -p "$LOG_DIR"
LOG_FILE="$LOG_DIR/{{.Profile}}_$(date +%Y%m%d_%H%M%S).log"
echo "[$(date '+%Y-%m-%d %H:%M:%S')] starting {{.Label}} (pid $$)" >> "$LOG_FILE"
{{- range .Env}}
export {{.}}
{{- end}}
{{.Command}} >> "$LOG_FILE" 2>&1
status=$?
echo "[$(date '+%Y-%m-%d %H:%M:%S')] {{.Label}} exited with status $status" >> "$LOG_FILE"
deactivate 2>/dev/null || true
exit $status
`

const serviceTmpl = `# Generated by personactl for {{.Label}}; overwritten on every install.
[Unit]
Description=persona agent {{.Label}}
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
WorkingDirectory={{path .InstallDir}}
ExecStart={{exec .RunScript}}
Restart=always
RestartSec={{.RestartSec}}
{{- range .Env}}
Environment="{{env .}}"
{{- end}}
StandardOutput=append:{{path .LogDir}}/service.out.log
StandardError=append:{{path .LogDir}}/service.err.log

[Install]
WantedBy=multi-user.target
`

var (
	runScript = template.Must(template.New("run").Funcs(template.FuncMap{"q": shellQuote}).Parse(runScriptTmpl))
	service   = template.Must(template.New("service").Funcs(template.FuncMap{
		"path": escapeSpecifiers,
		"exec": systemdExec,
		"env":  systemdQuoted,
	}).Parse(serviceTmpl))
)

// Settings are the install-independent inputs of generation.
type Settings struct {
	User       string
	RestartSec int
	Python     string
}

type data struct {
	Label      string
	Profile    string
	InstallDir string
	Activate   string
	LogDir     string
	RunScript  string
	Command    string
	Env        []string
	User       string
	RestartSec int
}

func newData(req *resolve.Request, s Settings) data {
	python := s.Python
	if python == "" {
		python = "python3"
	}
	argv := append([]string(nil), req.Profile.Launcher...)
	argv = append(argv, python, filepath.Join(req.InstallDir, req.Profile.EntryPoint))
	quoted := make([]string, 0, len(argv))
	for _, a := range argv {
		quoted = append(quoted, shellQuote(a))
	}
	restart := s.RestartSec
	if restart <= 0 {
		restart = 10
	}
	env := req.SortedEnv()
	for i, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		env[i] = k + "=" + shellQuote(v)
	}
	return data{
		Label:      req.Label(),
		Profile:    string(req.Profile.ID),
		InstallDir: req.InstallDir,
		Activate:   filepath.Join(req.VenvDir(), "bin", "activate"),
		LogDir:     req.LogDir(),
		RunScript:  req.RunScript(),
		Command:    strings.Join(quoted, " "),
		Env:        env,
		User:       s.User,
		RestartSec: restart,
	}
}

// RunScript renders the run script.
func RunScript(req *resolve.Request, s Settings) (string, error) {
	var buf bytes.Buffer
	if err := runScript.Execute(&buf, newData(req, s)); err != nil {
		return "", fmt.Errorf("render run script: %w", err)
	}
	return buf.String(), nil
}

// Service renders the systemd service descriptor.
func Service(req *resolve.Request, s Settings) (host.Unit, error) {
	if s.User == "" {
		return host.Unit{}, fmt.Errorf("render service: owning user is empty")
	}
	d := newData(req, s)
	// Environment= values are escaped by the template, not shell-quoted
	d.Env = req.SortedEnv()
	var buf bytes.Buffer
	if err := service.Execute(&buf, d); err != nil {
		return host.Unit{}, fmt.Errorf("render service: %w", err)
	}
	return host.Unit{Name: req.Profile.ServiceName(), Content: buf.String()}, nil
}

// WriteRunScript renders and writes the run script, replacing any previous
// version, and marks it executable.
func WriteRunScript(req *resolve.Request, s Settings) (string, error) {
	text, err := RunScript(req, s)
	if err != nil {
		return "", err
	}
	path := req.RunScript()
	if err := os.WriteFile(path, []byte(text), 0o755); err != nil {
		return "", fmt.Errorf("write run script: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'$`\\|&;<>()*?[]#~{}!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// escapeSpecifiers doubles % so systemd does not expand it as a specifier.
func escapeSpecifiers(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

var quotedReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "%", "%%")

// systemdQuoted escapes s for use inside a double-quoted unit setting.
func systemdQuoted(s string) string {
	return quotedReplacer.Replace(s)
}

// systemdExec renders a command path for ExecStart, quoting it when systemd
// would otherwise split or unescape it.
func systemdExec(s string) string {
	if strings.ContainsAny(s, " \t\n\"'\\") {
		return `"` + systemdQuoted(s) + `"`
	}
	return escapeSpecifiers(s)
}
