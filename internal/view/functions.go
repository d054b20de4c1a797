package view

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/roach88/fedgraph/internal/element"
)

// Predicate tests the values of the properties a filter step selects.
// Values of absent properties are nil. Single-argument predicates test
// the first selected value.
//
// Predicates are configured from JSON: the registered factory returns a
// zero value which is then unmarshalled from the step's config, and the
// predicate marshals back to the same config.
type Predicate interface {
	ID() string
	Test(values []element.Value) bool
}

// TransformFunction maps the selected values to the projected values.
type TransformFunction interface {
	ID() string
	Apply(values []element.Value) ([]element.Value, error)
}

var (
	functionsMu        sync.RWMutex
	predicateFactories = map[string]func() Predicate{}
	transformFactories = map[string]func() TransformFunction{}
)

// RegisterPredicate makes a predicate available to view documents.
// Registering the same id twice panics.
func RegisterPredicate(id string, factory func() Predicate) {
	functionsMu.Lock()
	defer functionsMu.Unlock()
	if _, dup := predicateFactories[id]; dup {
		panic(fmt.Sprintf("view: predicate %q registered twice", id))
	}
	predicateFactories[id] = factory
}

// RegisterTransform makes a transform function available to view documents.
// Registering the same id twice panics.
func RegisterTransform(id string, factory func() TransformFunction) {
	functionsMu.Lock()
	defer functionsMu.Unlock()
	if _, dup := transformFactories[id]; dup {
		panic(fmt.Sprintf("view: transform %q registered twice", id))
	}
	transformFactories[id] = factory
}

// NewPredicate builds a registered predicate from its JSON config.
// An empty config leaves the predicate at its zero value.
func NewPredicate(id string, config json.RawMessage) (Predicate, error) {
	functionsMu.RLock()
	factory, ok := predicateFactories[id]
	functionsMu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Field: "predicate", Message: fmt.Sprintf("unknown predicate %q", id)}
	}
	p := factory()
	if len(config) > 0 {
		if err := json.Unmarshal(config, p); err != nil {
			return nil, &ConfigurationError{Field: "predicate", Message: fmt.Sprintf("%s: %v", id, err)}
		}
	}
	return p, nil
}

// NewTransform builds a registered transform function from its JSON config.
func NewTransform(id string, config json.RawMessage) (TransformFunction, error) {
	functionsMu.RLock()
	factory, ok := transformFactories[id]
	functionsMu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Field: "transform", Message: fmt.Sprintf("unknown transform function %q", id)}
	}
	fn := factory()
	if len(config) > 0 {
		if err := json.Unmarshal(config, fn); err != nil {
			return nil, &ConfigurationError{Field: "transform", Message: fmt.Sprintf("%s: %v", id, err)}
		}
	}
	return fn, nil
}

// functionConfig marshals a function's config, dropping an empty object.
func functionConfig(fn any) (json.RawMessage, error) {
	data, err := json.Marshal(fn)
	if err != nil {
		return nil, err
	}
	if string(data) == "{}" {
		return nil, nil
	}
	return data, nil
}

func init() {
	RegisterPredicate("exists", func() Predicate { return &Exists{} })
	RegisterPredicate("isEqual", func() Predicate { return &IsEqual{} })
	RegisterPredicate("isMoreThan", func() Predicate { return &IsMoreThan{} })
	RegisterPredicate("isLessThan", func() Predicate { return &IsLessThan{} })
	RegisterPredicate("isIn", func() Predicate { return &IsIn{} })
	RegisterPredicate("regex", func() Predicate { return &Regex{} })
	RegisterPredicate("not", func() Predicate { return &Not{} })

	RegisterTransform("identity", func() TransformFunction { return &Identity{} })
	RegisterTransform("concat", func() TransformFunction { return &Concat{} })
	RegisterTransform("toString", func() TransformFunction { return &ToString{} })
	RegisterTransform("length", func() TransformFunction { return &Length{} })
	RegisterTransform("add", func() TransformFunction { return &Add{} })
}

func first(values []element.Value) element.Value {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// Exists passes when every selected property is present.
type Exists struct{}

func (*Exists) ID() string { return "exists" }

func (*Exists) Test(values []element.Value) bool {
	return !slices.Contains(values, nil)
}

// IsEqual passes when the value equals Value.
type IsEqual struct {
	Value element.Literal `json:"value"`
}

func (*IsEqual) ID() string { return "isEqual" }

func (p *IsEqual) Test(values []element.Value) bool {
	return element.Equal(first(values), p.Value.Value)
}

// IsMoreThan passes when the value is greater than Value, or equal to it
// when OrEqualTo is set. Incomparable values fail.
type IsMoreThan struct {
	Value     element.Literal `json:"value"`
	OrEqualTo bool            `json:"orEqualTo,omitempty"`
}

func (*IsMoreThan) ID() string { return "isMoreThan" }

func (p *IsMoreThan) Test(values []element.Value) bool {
	c, ok := element.Compare(first(values), p.Value.Value)
	return ok && (c > 0 || (p.OrEqualTo && c == 0))
}

// IsLessThan passes when the value is less than Value, or equal to it
// when OrEqualTo is set. Incomparable values fail.
type IsLessThan struct {
	Value     element.Literal `json:"value"`
	OrEqualTo bool            `json:"orEqualTo,omitempty"`
}

func (*IsLessThan) ID() string { return "isLessThan" }

func (p *IsLessThan) Test(values []element.Value) bool {
	c, ok := element.Compare(first(values), p.Value.Value)
	return ok && (c < 0 || (p.OrEqualTo && c == 0))
}

// IsIn passes when the value equals one of Values.
type IsIn struct {
	Values []element.Literal `json:"values"`
}

func (*IsIn) ID() string { return "isIn" }

func (p *IsIn) Test(values []element.Value) bool {
	v := first(values)
	for _, allowed := range p.Values {
		if element.Equal(v, allowed.Value) {
			return true
		}
	}
	return false
}

// Regex passes when the value is a string matching Pattern.
type Regex struct {
	re *regexp.Regexp
}

// NewRegex compiles pattern into a Regex predicate.
func NewRegex(pattern string) (*Regex, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Regex{re: re}, nil
}

func (*Regex) ID() string { return "regex" }

func (p *Regex) Test(values []element.Value) bool {
	s, ok := first(values).(element.String)
	return ok && p.re != nil && p.re.MatchString(string(s))
}

type regexConfig struct {
	Pattern string `json:"pattern"`
}

func (p *Regex) MarshalJSON() ([]byte, error) {
	var pattern string
	if p.re != nil {
		pattern = p.re.String()
	}
	return json.Marshal(regexConfig{Pattern: pattern})
}

func (p *Regex) UnmarshalJSON(data []byte) error {
	var cfg regexConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return err
	}
	p.re = re
	return nil
}

// Not inverts another predicate.
type Not struct {
	Predicate Predicate
}

func (*Not) ID() string { return "not" }

func (p *Not) Test(values []element.Value) bool {
	return p.Predicate != nil && !p.Predicate.Test(values)
}

type notConfig struct {
	Predicate FunctionDoc `json:"predicate"`
}

func (p *Not) MarshalJSON() ([]byte, error) {
	if p.Predicate == nil {
		return nil, fmt.Errorf("not: missing predicate")
	}
	doc, err := predicateDoc(p.Predicate)
	if err != nil {
		return nil, err
	}
	return json.Marshal(notConfig{Predicate: doc})
}

func (p *Not) UnmarshalJSON(data []byte) error {
	var cfg notConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	inner, err := NewPredicate(cfg.Predicate.ID, cfg.Predicate.Config)
	if err != nil {
		return err
	}
	p.Predicate = inner
	return nil
}

// Identity passes values through unchanged.
type Identity struct{}

func (*Identity) ID() string { return "identity" }

func (*Identity) Apply(values []element.Value) ([]element.Value, error) {
	return slices.Clone(values), nil
}

// Concat joins the text form of the present values with Separator.
type Concat struct {
	Separator string `json:"separator,omitempty"`
}

func (*Concat) ID() string { return "concat" }

func (f *Concat) Apply(values []element.Value) ([]element.Value, error) {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v != nil {
			parts = append(parts, element.Format(v))
		}
	}
	return []element.Value{element.String(strings.Join(parts, f.Separator))}, nil
}

// ToString converts each value to its text form. Absent values stay absent.
type ToString struct{}

func (*ToString) ID() string { return "toString" }

func (*ToString) Apply(values []element.Value) ([]element.Value, error) {
	out := make([]element.Value, len(values))
	for i, v := range values {
		if v != nil {
			out[i] = element.String(element.Format(v))
		}
	}
	return out, nil
}

// Length returns the length of a string (in characters) or a list.
type Length struct{}

func (*Length) ID() string { return "length" }

func (*Length) Apply(values []element.Value) ([]element.Value, error) {
	switch v := first(values).(type) {
	case nil:
		return []element.Value{nil}, nil
	case element.String:
		return []element.Value{element.Int(utf8.RuneCountInString(string(v)))}, nil
	case element.List:
		return []element.Value{element.Int(len(v))}, nil
	default:
		return nil, fmt.Errorf("length: unsupported %s value", v.TypeName())
	}
}

// Add sums the present int values.
type Add struct{}

func (*Add) ID() string { return "add" }

func (*Add) Apply(values []element.Value) ([]element.Value, error) {
	var sum element.Int
	for i, v := range values {
		switch n := v.(type) {
		case nil:
		case element.Int:
			sum += n
		default:
			return nil, fmt.Errorf("add: value %d is %s, not int", i, n.TypeName())
		}
	}
	return []element.Value{sum}, nil
}
