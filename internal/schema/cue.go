package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/fedgraph/internal/element"
)

// Compile parses a CUE value into a Schema. The value holds two optional
// structs, entities and edges, keyed by group name:
//
//	entities: Person: {
//	    properties: {
//	        age:  {type: "int", aggregator: "max"}
//	        name: "string"
//	    }
//	    groupBy: []
//	}
//	edges: Knows: {
//	    properties: { since: "int", weight: {type: "int", aggregator: "sum"} }
//	    groupBy: ["since"]
//	}
//
// A property declared as a bare string is a type with the "first" aggregator.
// Property order follows declaration order.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var groups []*Group
	sections := []struct {
		path string
		kind element.Kind
	}{
		{"entities", element.KindEntity},
		{"edges", element.KindEdge},
	}
	for _, section := range sections {
		sv := v.LookupPath(cue.ParsePath(section.path))
		if !sv.Exists() {
			continue
		}
		iter, err := sv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			g, err := compileGroup(iter.Label(), section.kind, iter.Value())
			if err != nil {
				return nil, err
			}
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return nil, &CompileError{
			Field:   "entities",
			Message: "schema declares no entities or edges",
			Pos:     v.Pos(),
		}
	}

	s, err := New(groups...)
	if err != nil {
		return nil, &CompileError{Field: "schema", Message: err.Error(), Pos: v.Pos()}
	}
	return s, nil
}

func compileGroup(name string, kind element.Kind, v cue.Value) (*Group, error) {
	g := &Group{Name: name, Kind: kind, GroupBy: []string{}}

	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if propsVal.Exists() {
		iter, err := propsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			def, err := compileProperty(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			g.Properties = append(g.Properties, def)
		}
	}

	groupByVal := v.LookupPath(cue.ParsePath("groupBy"))
	if groupByVal.Exists() {
		list, err := groupByVal.List()
		if err != nil {
			return nil, &CompileError{Field: "groupBy", Message: "groupBy must be a list of property names", Pos: groupByVal.Pos()}
		}
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			g.GroupBy = append(g.GroupBy, s)
		}
	}

	visVal := v.LookupPath(cue.ParsePath("visibility"))
	if visVal.Exists() {
		s, err := visVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		g.VisibilityProperty = s
	}

	return g, nil
}

func compileProperty(name string, v cue.Value) (PropertyDef, error) {
	def := PropertyDef{Name: name, Aggregator: AggregateFirst}

	if typ, err := v.String(); err == nil {
		def.Type = typ
		return def, nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return def, &CompileError{
			Field:   "properties." + name,
			Message: fmt.Sprintf("expected a type name or {type, aggregator}, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return def, &CompileError{Field: "properties." + name + ".type", Message: "type is required", Pos: v.Pos()}
	}
	typ, err := typeVal.String()
	if err != nil {
		return def, formatCUEError(err)
	}
	def.Type = typ

	aggVal := v.LookupPath(cue.ParsePath("aggregator"))
	if aggVal.Exists() {
		agg, err := aggVal.String()
		if err != nil {
			return def, formatCUEError(err)
		}
		def.Aggregator = Aggregator(agg)
	}
	return def, nil
}

// CompileString compiles CUE source text into a Schema.
func CompileString(src string) (*Schema, error) {
	ctx := cuecontext.New()
	return Compile(ctx.CompileString(src))
}

// LoadDir loads every CUE file of the package in dir and compiles the
// result.
func LoadDir(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(value)
}

// CompileError is a schema error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
