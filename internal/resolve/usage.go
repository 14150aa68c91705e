package resolve

import (
	"fmt"
	"io"
	"strings"

	"personactl/internal/profile"
)

// WriteUsage prints install usage including the profile catalog.
func WriteUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: personactl install --profile=<name> [--variant=<name>] [--param:<key>=<value>]...")
	fmt.Fprintln(w, "                          [--root=<dir>] [--payload=<dir>] [--user=<name>] [--config=<file>]")
	fmt.Fprintln(w, "                          [--settle=<duration>] [--log-level=<level>] [--dry-run]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Profiles:")
	for _, p := range profile.All() {
		fmt.Fprintf(w, "  %-6s %s\n", p.ID, p.Description)
		if p.HasVariants() {
			fmt.Fprintf(w, "         variants: %s\n", strings.Join(p.VariantNames(), ", "))
		}
		for _, prm := range p.Params {
			fmt.Fprintf(w, "         --param:%s=<value>  %s (default %s)\n", prm.Name, prm.Help, prm.Default)
		}
	}
}
