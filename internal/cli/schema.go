package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fedgraph/internal/schema"
)

// SchemaIssue is one schema problem in JSON output.
type SchemaIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// SchemaResult is the JSON payload of schema validate.
type SchemaResult struct {
	Valid  bool          `json:"valid"`
	Groups []string      `json:"groups,omitempty"`
	Errors []SchemaIssue `json:"errors,omitempty"`
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with CUE schemas",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate a CUE schema package",
		Long: `Compile the CUE schema package in a directory and check its groups,
property types, aggregators and group-by properties.

Example:
  fedgraph schema validate ./schema`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateSchema(rootOpts, args[0], cmd)
		},
	})
	return cmd
}

func validateSchema(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	if _, err := os.Stat(dir); err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "schema directory not found: "+dir, err)
	}

	s, err := schema.LoadDir(dir)
	if err != nil {
		issue := SchemaIssue{Field: "schema", Message: err.Error()}
		var ce *schema.CompileError
		if errors.As(err, &ce) {
			issue = SchemaIssue{Field: ce.Field, Message: ce.Message}
			if ce.Pos.IsValid() {
				issue.Line = ce.Pos.Line()
			}
		}
		if f.Format == "json" {
			_ = f.Success(SchemaResult{Valid: false, Errors: []SchemaIssue{issue}})
		} else {
			fmt.Fprintln(f.Writer, "✗ Validation failed")
			if issue.Line > 0 {
				fmt.Fprintf(f.Writer, "line %d\n", issue.Line)
			}
			fmt.Fprintf(f.Writer, "  %s: %s\n", issue.Field, issue.Message)
		}
		return WrapExitError(ExitFailure, "schema validation failed", err)
	}

	groups := s.GroupNames()
	if f.Format == "json" {
		return f.Success(SchemaResult{Valid: true, Groups: groups})
	}
	fmt.Fprintf(f.Writer, "✓ schema valid (%d group(s))\n", len(groups))
	return nil
}
