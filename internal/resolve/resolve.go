// Package resolve turns install command-line tokens into a validated,
// immutable install request. It performs no side effects.
package resolve

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"personactl/internal/profile"
)

// UsageError is a bad or missing argument, detected before any side effect.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func usagef(format string, a ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, a...)}
}

// ErrHelp is returned when the tokens ask for help.
var ErrHelp = fmt.Errorf("help requested")

// Options are installer settings that may also come from configuration.
type Options struct {
	Root       string
	PayloadDir string
	User       string
	ConfigFile string
	DryRun     bool
	Settle     *time.Duration
	LogLevel   string
}

// Request is a fully resolved install. Build it with Parse; treat it as
// read-only afterwards.
type Request struct {
	Profile profile.Profile
	// Variant is empty for profiles without variants.
	Variant profile.Variant
	// Params holds every declared parameter with its resolved value.
	Params     map[string]string
	Root       string
	InstallDir string
	Options    Options
	// Args is the original token list, kept for failure reports.
	Args []string
}

// Defaults supplies configuration-derived values the tokens may override.
type Defaults struct {
	Root  string
	Model string
}

// Parse resolves tokens into a Request. Accepted tokens:
//
//	--profile=<name> | <name>
//	--variant=<name> | <name>    (second positional)
//	--param:<key>=<value>
//	--root=<dir> --payload=<dir> --user=<name> --config=<file>
//	--settle=<duration> --log-level=<level> --dry-run
//	-h | --help
func Parse(tokens []string, def Defaults) (*Request, error) {
	var (
		profileName, variantName string
		haveProfile, haveVariant bool
		overrides                = map[string]string{}
		opts                     Options
		positional               []string
	)
	for _, tok := range tokens {
		if tok == "-h" || tok == "--help" || tok == "help" {
			return nil, ErrHelp
		}
	}
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, "-") {
			positional = append(positional, tok)
			continue
		}
		body, ok := strings.CutPrefix(tok, "--")
		if !ok || body == "" || strings.HasPrefix(body, "-") {
			return nil, usagef("unknown option %q", tok)
		}
		name, value, hasValue := strings.Cut(body, "=")
		if key, ok := strings.CutPrefix(name, "param:"); ok {
			if key == "" || !hasValue || value == "" {
				return nil, usagef("malformed override %q: expected --param:<key>=<value>", tok)
			}
			if _, dup := overrides[key]; dup {
				return nil, usagef("override %q given more than once", key)
			}
			overrides[key] = value
			continue
		}
		if name == "dry-run" {
			if hasValue {
				return nil, usagef("--dry-run takes no value")
			}
			opts.DryRun = true
			continue
		}
		if !hasValue || value == "" {
			return nil, usagef("option %q requires a value (--%s=<value>)", tok, name)
		}
		switch name {
		case "profile":
			if haveProfile {
				return nil, usagef("--profile given more than once")
			}
			profileName, haveProfile = value, true
		case "variant":
			if haveVariant {
				return nil, usagef("--variant given more than once")
			}
			variantName, haveVariant = value, true
		case "root":
			opts.Root = value
		case "payload":
			opts.PayloadDir = value
		case "user":
			opts.User = value
		case "config":
			opts.ConfigFile = value
		case "log-level":
			opts.LogLevel = value
		case "settle":
			d, err := time.ParseDuration(value)
			if err != nil || d < 0 {
				return nil, usagef("invalid --settle %q: expected a duration such as 5s", value)
			}
			opts.Settle = &d
		default:
			return nil, usagef("unknown option %q", tok)
		}
	}

	for _, p := range positional {
		switch {
		case !haveProfile:
			profileName, haveProfile = p, true
		case !haveVariant:
			variantName, haveVariant = p, true
		default:
			return nil, usagef("unexpected argument %q", p)
		}
	}

	if !haveProfile {
		return nil, usagef("a profile is required (one of: %s)", strings.Join(profile.Names(), ", "))
	}
	prof, ok := profile.Lookup(profileName)
	if !ok {
		return nil, usagef("unknown profile %q (valid: %s)", profileName, strings.Join(profile.Names(), ", "))
	}

	var variant profile.Variant
	switch {
	case prof.HasVariants() && !haveVariant:
		return nil, usagef("profile %s requires a variant (valid: %s)", prof.ID, strings.Join(prof.VariantNames(), ", "))
	case prof.HasVariants():
		v, ok := prof.Variant(variantName)
		if !ok {
			return nil, usagef("unknown variant %q for profile %s (valid: %s)", variantName, prof.ID, strings.Join(prof.VariantNames(), ", "))
		}
		variant = v
	case haveVariant:
		return nil, usagef("profile %s has no variants", prof.ID)
	}

	params, err := resolveParams(prof, def, overrides)
	if err != nil {
		return nil, err
	}

	root := opts.Root
	if root == "" {
		root = def.Root
	}
	if root == "" {
		return nil, usagef("install root is empty")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, usagef("invalid install root %q: %v", root, err)
	}

	return &Request{
		Profile:    prof,
		Variant:    variant,
		Params:     params,
		Root:       absRoot,
		InstallDir: filepath.Join(absRoot, string(prof.ID)),
		Options:    opts,
		Args:       append([]string(nil), tokens...),
	}, nil
}

// resolveParams applies declared default, then the configured default, then
// the explicit override. Values are not checked against any allow-list.
func resolveParams(prof profile.Profile, def Defaults, overrides map[string]string) (map[string]string, error) {
	for key := range overrides {
		if _, ok := prof.Param(key); !ok {
			valid := prof.ParamNames()
			if len(valid) == 0 {
				return nil, usagef("profile %s accepts no parameters (got %q)", prof.ID, key)
			}
			return nil, usagef("unknown parameter %q for profile %s (valid: %s)", key, prof.ID, strings.Join(valid, ", "))
		}
	}
	params := make(map[string]string, len(prof.Params))
	for _, p := range prof.Params {
		v := p.Default
		if p.Name == profile.ParamModel && def.Model != "" {
			v = def.Model
		}
		if o, ok := overrides[p.Name]; ok {
			v = o
		}
		params[p.Name] = v
	}
	return params, nil
}

// Model returns the resolved model identifier, or "" when not declared.
func (r *Request) Model() string { return r.Params[profile.ParamModel] }

// VenvDir is the isolated runtime environment.
func (r *Request) VenvDir() string { return filepath.Join(r.InstallDir, "venv") }

// LogDir holds run logs and supervisor output.
func (r *Request) LogDir() string { return filepath.Join(r.InstallDir, "logs") }

// RunScript is the generated entry script path.
func (r *Request) RunScript() string { return filepath.Join(r.InstallDir, r.Profile.RunScriptName()) }

// EnvVars maps each parameter's payload variable to its exported value.
func (r *Request) EnvVars() map[string]string {
	out := make(map[string]string, len(r.Params))
	for _, p := range r.Profile.Params {
		if p.Env == "" {
			continue
		}
		out[p.Env] = p.EnvValue(r.Params[p.Name])
	}
	return out
}

// SortedEnv returns EnvVars as KEY=VALUE pairs sorted by key.
func (r *Request) SortedEnv() []string {
	env := r.EnvVars()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Label is "profile" or "profile/variant".
func (r *Request) Label() string {
	if r.Variant == "" {
		return string(r.Profile.ID)
	}
	return string(r.Profile.ID) + "/" + string(r.Variant)
}
