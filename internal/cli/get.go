package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/federation"
	"github.com/roach88/fedgraph/internal/operation"
	"github.com/roach88/fedgraph/internal/view"
)

// QueryOptions holds flags shared by get and count.
type QueryOptions struct {
	*RootOptions
	Graphs      []string
	ViewFile    string
	Auths       []string
	NoSummarise bool
}

func (o *QueryOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.Graphs, "graphs", nil, "member graph ids to query (default all)")
	cmd.Flags().StringVar(&o.ViewFile, "view", "", "view document (JSON or YAML)")
	cmd.Flags().StringSliceVar(&o.Auths, "auths", nil, "authorizations to read with")
	cmd.Flags().BoolVar(&o.NoSummarise, "no-summarise", false, "return stored records without aggregation")
}

// operation fills the options and view shared by get and count.
func (o *QueryOptions) operation(kind operation.Kind) (*operation.Operation, error) {
	op := &operation.Operation{Kind: kind}
	if len(o.Graphs) > 0 {
		op.SetOption(operation.OptionGraphIDs, strings.Join(o.Graphs, ","))
	}
	if o.NoSummarise {
		op.SetOption(operation.OptionSummarise, strconv.FormatBool(false))
	}
	if o.ViewFile != "" {
		v, err := readView(o.ViewFile)
		if err != nil {
			return nil, err
		}
		op.View = v
	}
	return op, nil
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	QueryOptions
	Seeds     []string
	Direction string
	Matching  string
}

// ElementRecord is one element in JSON output, keyed by its content ID.
type ElementRecord struct {
	ID string `json:"id"`
	element.Element
}

// ElementsResult is the JSON payload of get.
type ElementsResult struct {
	Elements []ElementRecord `json:"elements"`
	Failures []FailureInfo   `json:"failures,omitempty"`
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{QueryOptions: QueryOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get elements from the federated graph",
		Long: `Get elements from every member graph, merged in member order.

With --seed, returns the elements related to the seed vertices
(GetElements); without, returns every element (GetAllElements).

Example:
  fedgraph --config deploy.yaml get --seed alice --direction outgoing
  fedgraph --config deploy.yaml get --view adults.yaml --graphs east,west`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getElements(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringArrayVar(&opts.Seeds, "seed", nil, "seed vertex (repeatable)")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "edge direction for seeds (either|outgoing|incoming)")
	cmd.Flags().StringVar(&opts.Matching, "matching", "", "seed matching (related|equal)")

	return cmd
}

func getElements(opts *GetOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	kind := operation.KindGetAllElements
	if len(opts.Seeds) > 0 {
		kind = operation.KindGetElements
	}
	op, err := opts.operation(kind)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeInvalid, "invalid view", err)
	}
	for _, s := range opts.Seeds {
		op.Seeds = append(op.Seeds, element.EntitySeed{Vertex: s})
	}
	if opts.Direction != "" {
		op.SetOption(operation.OptionIncludeIncomingOutgoing, opts.Direction)
	}
	if opts.Matching != "" {
		op.SetOption(operation.OptionSeedMatching, opts.Matching)
	}

	d, err := openDeployment(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer closeDeployment(d)

	res, err := d.Store.Call(cmd.Context(), op, operation.User{Authorizations: opts.Auths})
	if err != nil {
		return queryFailed(f, err)
	}
	defer res.Close()
	f.VerboseLog("Call %s", res.CallID)

	ctx := cmd.Context()
	collected := []ElementRecord{}
	for res.Sequence.Next(ctx) {
		e := res.Sequence.Element().Element
		if f.Format != "json" {
			f.Element(e)
			continue
		}
		id, err := element.ElementID(e)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeOperation, "encode element", err)
		}
		collected = append(collected, ElementRecord{ID: id, Element: e})
	}
	if err := res.Sequence.Err(); err != nil {
		return queryFailed(f, err)
	}

	failures := res.Failures()
	if f.Format == "json" {
		return f.Success(ElementsResult{Elements: collected, Failures: failureInfos(failures)})
	}
	f.Failures(failures)
	return nil
}

func queryFailed(f *OutputFormatter, err error) error {
	if federation.IsConfigurationError(err) {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid graph selection", err)
	}
	return f.Fail(ExitFailure, ErrCodeOperation, "query failed", err)
}

// CountResult is the JSON payload of count.
type CountResult struct {
	Count    int64         `json:"count"`
	Failures []FailureInfo `json:"failures,omitempty"`
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count elements across member graphs",
		Long: `Count every element visible through the view, summed across members.

Example:
  fedgraph --config deploy.yaml count --graphs east`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return countElements(opts, cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func countElements(opts *QueryOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	op, err := opts.operation(operation.KindCountAllElements)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeInvalid, "invalid view", err)
	}

	d, err := openDeployment(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer closeDeployment(d)

	res, err := d.Store.Call(cmd.Context(), op, operation.User{Authorizations: opts.Auths})
	if err != nil {
		return queryFailed(f, err)
	}
	n, _ := res.Value.(int64)
	if f.Format == "json" {
		return f.Success(CountResult{Count: n, Failures: failureInfos(res.Failures())})
	}
	fmt.Fprintln(f.Writer, n)
	f.Failures(res.Failures())
	return nil
}

func readView(path string) (*view.View, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return view.Parse(path, data)
}
