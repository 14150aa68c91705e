package config

import (
	"os"
	"path/filepath"
	"strings"
)

// expandHome expands a leading "~" using HOME from lookup, falling back to
// the process home directory. Other paths are returned unchanged.
func expandHome(path string, lookup Lookup) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, ok := lookup("HOME")
	if !ok || home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		home = h
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}

// expandPaths applies expandHome to every path-valued field.
func expandPaths(cfg *Config, lookup Lookup) {
	for _, p := range []*string{&cfg.Root, &cfg.PayloadDir, &cfg.UnitDir, &cfg.MetricsTextfile} {
		*p = expandHome(*p, lookup)
	}
}
