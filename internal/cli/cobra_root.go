package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"personactl/internal/resolve"
)

// addGlobalFlags registers flags shared by every command.
func addGlobalFlags(fs *pflag.FlagSet, a *app) {
	fs.StringVar(&a.logLevel, "log-level", a.logLevel, "Log level: debug|info|warn|error (defaults PERSONA_LOG_LEVEL or info)")
	fs.StringVar(&a.configFile, "config", a.configFile, "Configuration file (.yaml, .yml, .json or .toml; defaults PERSONA_CONFIG)")
}

// buildRootCmd constructs the command tree wired to a.
func buildRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "personactl",
		Short:         "Provision synthetic user persona agents as supervised services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return &resolve.UsageError{Msg: "a profile is required"}
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	addGlobalFlags(root.PersistentFlags(), a)
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		a.setLevel(a.logLevel)
	}

	installCmd := &cobra.Command{
		Use:   "install <profile> [variant] [--param:<key>=<value>]...",
		Short: "Install a persona profile and start its service",
		Example: "  personactl install mchp\n" +
			"  personactl install bu improved --param:model=qwen2.5:7b\n" +
			"  personactl install --profile=smol --variant=default --dry-run --root=/tmp/persona",
		// Tokens such as --param:model=x are not pflag syntax; the resolver
		// parses everything itself.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.install(cmd.Context(), args)
		},
	}
	root.AddCommand(installCmd)

	var so statusOptions
	statusCmd := &cobra.Command{
		Use:     "status",
		Short:   "Show installed profiles and service state",
		Example: "  personactl status\n  personactl status --json\n  personactl status --listen=:9410",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status(cmd.Context(), so)
		},
	}
	sf := statusCmd.Flags()
	sf.BoolVar(&so.json, "json", false, "Print JSON instead of a table")
	sf.StringVar(&so.listen, "listen", "", "Serve /status and /metrics on this address instead of printing")
	sf.StringVar(&so.root, "root", "", "Install root (defaults to the configured root)")
	sf.StringSliceVar(&so.corsOrigins, "cors-origin", nil, "Allowed CORS origin for the status server (repeatable)")
	root.AddCommand(statusCmd)

	root.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List the available profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.profiles()
		},
	})

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(a.stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(a.stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(a.stdout, true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(a.stdout) }})
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(completionCmd)

	return root
}
