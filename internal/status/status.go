// Package status reports what is installed under the install root and
// whether each persona service is running.
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"personactl/internal/materialize"
	"personactl/internal/profile"
)

// Checker answers whether a supervised service is active.
type Checker interface {
	IsActive(ctx context.Context, name string) (bool, error)
}

// Entry is the state of one profile on this machine.
type Entry struct {
	Profile     string            `json:"profile"`
	Variant     string            `json:"variant,omitempty"`
	Installed   bool              `json:"installed"`
	InstallDir  string            `json:"install_dir"`
	Service     string            `json:"service"`
	UnitFile    bool              `json:"unit_file"`
	Active      bool              `json:"active"`
	Params      map[string]string `json:"params,omitempty"`
	InstalledAt *time.Time        `json:"installed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Collector inspects the install root and the supervisor.
type Collector struct {
	Root    string
	UnitDir string
	Host    Checker
}

// Collect returns one entry per registered profile, in registry order.
func (c *Collector) Collect(ctx context.Context) []Entry {
	out := make([]Entry, 0, len(profile.Names()))
	for _, p := range profile.All() {
		out = append(out, c.entry(ctx, p))
	}
	return out
}

func (c *Collector) entry(ctx context.Context, p profile.Profile) Entry {
	e := Entry{
		Profile:    string(p.ID),
		InstallDir: filepath.Join(c.Root, string(p.ID)),
		Service:    p.ServiceName(),
	}
	ac, err := materialize.ReadAgentConfig(e.InstallDir)
	switch {
	case err == nil:
		e.Installed = true
		e.Variant = ac.Variant
		e.Params = ac.Params
		if !ac.InstalledAt.IsZero() {
			at := ac.InstalledAt
			e.InstalledAt = &at
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		e.Error = err.Error()
	}
	if c.UnitDir != "" {
		if _, err := os.Stat(filepath.Join(c.UnitDir, e.Service)); err == nil {
			e.UnitFile = true
		}
	}
	if !e.Installed && !e.UnitFile {
		return e
	}
	if c.Host != nil {
		active, err := c.Host.IsActive(ctx, e.Service)
		if err != nil && e.Error == "" {
			e.Error = err.Error()
		}
		e.Active = active
	}
	return e
}

// WriteTable renders entries for a terminal.
func WriteTable(w io.Writer, entries []Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROFILE\tVARIANT\tINSTALLED\tSERVICE\tSTATE\tPARAMS")
	for _, e := range entries {
		variant := e.Variant
		if variant == "" {
			variant = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Profile, variant, yesNo(e.Installed), e.Service, e.State(), formatParams(e.Params))
	}
	return tw.Flush()
}

// State is a one-word summary used by the table view.
func (e Entry) State() string {
	switch {
	case e.Error != "":
		return "error"
	case e.Active:
		return "running"
	case e.Installed || e.UnitFile:
		return "stopped"
	default:
		return "absent"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatParams(params map[string]string) string {
	if len(params) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, ",")
}
