// Package profile is the static catalog of installable persona agents.
//
// Profiles form a closed set. Each one is built once at package init from
// its ID and is never mutated afterwards; callers receive copies.
package profile

import (
	"sort"
	"strings"
)

// ID names an installable profile.
type ID string

const (
	// MCHP drives a real browser through scripted human-like activity.
	MCHP ID = "mchp"
	// BU is a browser-use agent backed by a local model.
	BU ID = "bu"
	// SMOL is a smolagents code agent backed by a local model.
	SMOL ID = "smol"
)

// ids is the registry order used for listings and usage text.
var ids = []ID{MCHP, BU, SMOL}

// Variant names a sub-configuration of a profile.
type Variant string

const (
	VariantDefault  Variant = "default"
	VariantMCHPLike Variant = "mchp-like"
	VariantImproved Variant = "improved"
)

// ParamModel is the model identifier parameter shared by model-driven profiles.
const ParamModel = "model"

// DefaultModel is the declared model default for model-driven profiles.
const DefaultModel = "llama3:8b"

// Param declares a runtime parameter a profile accepts.
type Param struct {
	Name    string
	Default string
	// Env is the variable the payload reads the value from.
	Env string
	// ValuePrefix is prepended when the value is exported to the payload
	// (e.g. LiteLLM expects "ollama/<model>").
	ValuePrefix string
	Help        string
}

// EnvValue returns the value as the payload expects to see it.
func (p Param) EnvValue(v string) string {
	if p.ValuePrefix == "" || strings.HasPrefix(v, p.ValuePrefix) {
		return v
	}
	return p.ValuePrefix + v
}

// Driver is a versioned automation binary fetched per CPU architecture.
type Driver struct {
	Name    string
	Version string
}

// Profile is one installable persona.
type Profile struct {
	ID          ID
	Description string
	// SourceDir is the directory under the payload root holding this
	// profile's variant trees.
	SourceDir string
	Variants  []Variant
	// NativePackages go through the host package manager.
	NativePackages []string
	// RuntimePackages go into the isolated Python environment.
	RuntimePackages []string
	// Hooks run inside the isolated environment after RuntimePackages.
	Hooks  [][]string
	Params []Param
	// ModelRuntime is the local model runtime the profile needs, if any.
	ModelRuntime string
	Driver       *Driver
	EntryPoint   string
	// Launcher wraps the interpreter in the run script (e.g. a virtual display).
	Launcher []string
}

// HasVariants reports whether a variant must be selected.
func (p Profile) HasVariants() bool { return len(p.Variants) > 0 }

// Variant returns the declared variant with the given name.
func (p Profile) Variant(name string) (Variant, bool) {
	for _, v := range p.Variants {
		if string(v) == name {
			return v, true
		}
	}
	return "", false
}

// VariantNames lists variants in declaration order.
func (p Profile) VariantNames() []string {
	out := make([]string, 0, len(p.Variants))
	for _, v := range p.Variants {
		out = append(out, string(v))
	}
	return out
}

// Param returns the declared parameter with the given name.
func (p Profile) Param(name string) (Param, bool) {
	for _, prm := range p.Params {
		if prm.Name == name {
			return prm, true
		}
	}
	return Param{}, false
}

// ParamNames lists parameter names sorted.
func (p Profile) ParamNames() []string {
	out := make([]string, 0, len(p.Params))
	for _, prm := range p.Params {
		out = append(out, prm.Name)
	}
	sort.Strings(out)
	return out
}

// RequiresModelRuntime reports whether the model runtime collaborator is needed.
func (p Profile) RequiresModelRuntime() bool { return p.ModelRuntime != "" }

// ServiceName is the host-global supervisor unit name for the profile.
func (p Profile) ServiceName() string { return "persona-" + string(p.ID) + ".service" }

// RunScriptName is the generated run script file name.
func (p Profile) RunScriptName() string { return "run_" + string(p.ID) + ".sh" }

func (p Profile) clone() Profile {
	c := p
	c.Variants = append([]Variant(nil), p.Variants...)
	c.NativePackages = append([]string(nil), p.NativePackages...)
	c.RuntimePackages = append([]string(nil), p.RuntimePackages...)
	c.Params = append([]Param(nil), p.Params...)
	c.Launcher = append([]string(nil), p.Launcher...)
	c.Hooks = make([][]string, 0, len(p.Hooks))
	for _, h := range p.Hooks {
		c.Hooks = append(c.Hooks, append([]string(nil), h...))
	}
	if p.Driver != nil {
		d := *p.Driver
		c.Driver = &d
	}
	return c
}
