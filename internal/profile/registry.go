package profile

import "fmt"

var basePython = []string{"python3", "python3-venv", "python3-pip"}

var modelVariants = []Variant{VariantDefault, VariantMCHPLike, VariantImproved}

var registry = func() map[ID]Profile {
	m := make(map[ID]Profile, len(ids))
	for _, id := range ids {
		m[id] = build(id)
	}
	return m
}()

// build is exhaustive over ids; an ID without a case is a programming error.
func build(id ID) Profile {
	switch id {
	case MCHP:
		return Profile{
			ID:              MCHP,
			Description:     "browser-driving human activity simulator",
			SourceDir:       "MCHP",
			NativePackages:  append(append([]string(nil), basePython...), "xvfb", "firefox-esr", "xdotool"),
			RuntimePackages: []string{"selenium", "pyautogui", "lxml", "beautifulsoup4"},
			Driver:          &Driver{Name: "geckodriver", Version: "v0.34.0"},
			EntryPoint:      "human.py",
			Launcher:        []string{"xvfb-run", "-a"},
		}
	case BU:
		return Profile{
			ID:              BU,
			Description:     "browser-use agent driven by a local model",
			SourceDir:       "BU",
			Variants:        modelVariants,
			NativePackages:  append(append([]string(nil), basePython...), "curl"),
			RuntimePackages: []string{"browser-use", "playwright"},
			Hooks:           [][]string{{"playwright", "install", "--with-deps", "chromium"}},
			Params: []Param{{
				Name:    ParamModel,
				Default: DefaultModel,
				Env:     "OLLAMA_MODEL",
				Help:    "ollama model tag",
			}},
			ModelRuntime: "ollama",
			EntryPoint:   "agent.py",
		}
	case SMOL:
		return Profile{
			ID:              SMOL,
			Description:     "smolagents code agent driven by a local model",
			SourceDir:       "SMOL",
			Variants:        modelVariants,
			NativePackages:  append(append([]string(nil), basePython...), "curl"),
			RuntimePackages: []string{"smolagents", "litellm", "duckduckgo-search"},
			Params: []Param{{
				Name:        ParamModel,
				Default:     DefaultModel,
				Env:         "LITELLM_MODEL",
				ValuePrefix: "ollama/",
				Help:        "ollama model tag, exported to LiteLLM as ollama/<tag>",
			}},
			ModelRuntime: "ollama",
			EntryPoint:   "agent.py",
		}
	}
	panic(fmt.Sprintf("profile: no definition for %q", id))
}

// Lookup returns the profile registered under name.
func Lookup(name string) (Profile, bool) {
	p, ok := registry[ID(name)]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// All returns every profile in registry order.
func All() []Profile {
	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, registry[id].clone())
	}
	return out
}

// Names returns profile names in registry order.
func Names() []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
