package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/fedgraph/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // deployment file
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fedgraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fedgraph",
		Short: "fedgraph - federated graph queries",
		Long:  "Query and load graphs whose elements live across several member stores, shaped by views.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "deployment file (env "+config.EnvPrefix+"_* overrides)")

	cmd.AddCommand(NewMembersCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewViewCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openDeployment loads and opens the deployment named by --config.
func openDeployment(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*config.Deployment, error) {
	if opts.Config == "" {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "--config is required", nil)
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "load deployment", err)
	}
	d, err := config.Build(cmd.Context(), cfg)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "open members", err)
	}
	f.VerboseLog("Opened %d member(s) from %s", len(d.Graphs()), opts.Config)
	return d, nil
}

func closeDeployment(d *config.Deployment) {
	if err := d.Close(); err != nil {
		slog.Error("error closing members", "error", err)
	}
}
