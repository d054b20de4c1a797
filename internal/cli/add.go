package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/federation"
	"github.com/roach88/fedgraph/internal/operation"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	SkipInvalid bool
	NoValidate  bool
}

// elementDoc is one element in an elements file. Kind may be omitted:
// an element with a vertex is an entity, anything else an edge.
type elementDoc struct {
	Group       string         `yaml:"group"`
	Kind        string         `yaml:"kind"`
	Vertex      string         `yaml:"vertex"`
	Source      string         `yaml:"source"`
	Destination string         `yaml:"destination"`
	Directed    bool           `yaml:"directed"`
	Properties  map[string]any `yaml:"properties"`
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <member> <elements.yaml>",
		Short: "Add elements to one member graph",
		Long: `Add the elements listed in a YAML file to one member graph.

Elements are validated against the member's schema; by default one
invalid element aborts the whole add.

Example file:
  - group: Person
    vertex: alice
    properties: {age: 30}
  - group: Knows
    source: alice
    destination: bob
    directed: true
    properties: {since: 2020, weight: 1}

Example:
  fedgraph --config deploy.yaml add east people.yaml --skip-invalid`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return addElements(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipInvalid, "skip-invalid", false, "skip elements that fail validation")
	cmd.Flags().BoolVar(&opts.NoValidate, "no-validate", false, "store elements without schema validation")

	return cmd
}

func addElements(opts *AddOptions, member, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	elems, err := loadElements(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f.Fail(ExitCommandError, ErrCodeNotFound, "elements file not found", err)
		}
		return f.Fail(ExitFailure, ErrCodeInvalid, "invalid elements file", err)
	}
	f.VerboseLog("Read %d element(s) from %s", len(elems), path)

	d, err := openDeployment(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer closeDeployment(d)

	op := &operation.Operation{Kind: operation.KindAddElements, Elements: elems}
	op.SetOption(operation.OptionGraphIDs, member)
	op.SetOption(operation.OptionSkipInvalidElements, strconv.FormatBool(opts.SkipInvalid))
	op.SetOption(operation.OptionValidate, strconv.FormatBool(!opts.NoValidate))

	res, err := d.Store.Call(cmd.Context(), op, operation.User{})
	if err != nil {
		if federation.IsConfigurationError(err) {
			return f.Fail(ExitCommandError, ErrCodeConfig, "unknown member "+member, err)
		}
		return f.Fail(ExitFailure, ErrCodeOperation, "add failed", err)
	}
	// A skip policy tolerates the failure; a one member add still failed.
	if failures := res.Failures(); len(failures) > 0 {
		return f.Fail(ExitFailure, ErrCodeOperation, "add failed", failures[0])
	}

	written, _ := res.Value.(int64)
	if f.Format == "json" {
		return f.Success(map[string]any{"member": member, "written": written, "read": len(elems)})
	}
	fmt.Fprintf(f.Writer, "added %d of %d element(s) to %s\n", written, len(elems), member)
	return nil
}

// loadElements reads a YAML list of elements.
func loadElements(path string) ([]element.Element, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []elementDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]element.Element, 0, len(docs))
	for i, doc := range docs {
		e, err := doc.element()
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (d elementDoc) element() (element.Element, error) {
	props := make(element.Properties, len(d.Properties))
	for name, raw := range d.Properties {
		v, err := element.FromAny(raw)
		if err != nil {
			return element.Element{}, fmt.Errorf("property %q: %w", name, err)
		}
		props[name] = v
	}
	if len(props) == 0 {
		props = nil
	}

	kind := element.KindEdge
	if d.Vertex != "" {
		kind = element.KindEntity
	}
	if d.Kind != "" {
		var err error
		if kind, err = element.ParseKind(d.Kind); err != nil {
			return element.Element{}, err
		}
	}

	var e element.Element
	if kind == element.KindEntity {
		e = element.NewEntity(d.Group, d.Vertex, props)
	} else {
		e = element.NewEdge(d.Group, d.Source, d.Destination, d.Directed, props)
	}
	if err := e.Check(); err != nil {
		return element.Element{}, err
	}
	return e, nil
}
