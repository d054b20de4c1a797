package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// MemberInfo describes one configured member.
type MemberInfo struct {
	ID             string   `json:"id"`
	Backend        string   `json:"backend"`
	Path           string   `json:"path,omitempty"`
	InMemory       bool     `json:"in_memory,omitempty"`
	Groups         []string `json:"groups"`
	Authorizations []string `json:"authorizations,omitempty"`
	View           string   `json:"view,omitempty"`
	Records        int64    `json:"records"`
}

// NewMembersCommand creates the members command.
func NewMembersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List the member graphs of the deployment",
		Long: `List the member graphs of the deployment in declaration order,
with their backend, location, schema groups and stored record count.

Example:
  fedgraph --config deploy.yaml members`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listMembers(rootOpts, cmd)
		},
	}
}

func listMembers(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	d, err := openDeployment(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeDeployment(d)

	var infos []MemberInfo
	for _, mc := range d.Config.Members {
		info := MemberInfo{
			ID:             mc.ID,
			Backend:        mc.Backend,
			Path:           mc.Path,
			InMemory:       mc.InMemory,
			Authorizations: mc.Authorizations,
			View:           mc.ViewFile,
		}
		if g, ok := d.Graph(mc.ID); ok {
			info.Groups = g.Schema().GroupNames()
			n, err := g.Records(cmd.Context())
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeOperation, "count records of "+mc.ID, err)
			}
			info.Records = n
		}
		infos = append(infos, info)
	}

	if f.Format == "json" {
		return f.Success(infos)
	}
	for _, info := range infos {
		where := info.Path
		if info.InMemory {
			where = "(in memory)"
		}
		fmt.Fprintf(f.Writer, "%s\t%s\t%s\t%s\t%d\n", info.ID, info.Backend, where, strings.Join(info.Groups, ","), info.Records)
	}
	return nil
}
