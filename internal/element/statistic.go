package element

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Statistic is an aggregate payload attached to a decoded element.
// Merge folds another statistic of the same type into the receiver.
type Statistic interface {
	// Type is the registered type name used in the stored encoding.
	Type() string

	// Merge folds other into the receiver. Merging a statistic of a
	// different type is an error and leaves the receiver unchanged.
	Merge(other Statistic) error

	// Clone returns an independent copy.
	Clone() Statistic

	// Value is the statistic's current value.
	Value() Value
}

// StatisticFactory rebuilds a statistic from its stored value.
type StatisticFactory func(v Value) (Statistic, error)

var (
	statisticMu        sync.RWMutex
	statisticFactories = map[string]StatisticFactory{}
)

// RegisterStatistic makes a statistic type decodable by name.
// Registering the same name twice panics.
func RegisterStatistic(typeName string, factory StatisticFactory) {
	statisticMu.Lock()
	defer statisticMu.Unlock()
	if _, dup := statisticFactories[typeName]; dup {
		panic(fmt.Sprintf("element: statistic %q registered twice", typeName))
	}
	statisticFactories[typeName] = factory
}

// NewStatistic rebuilds a registered statistic from its value.
func NewStatistic(typeName string, v Value) (Statistic, error) {
	statisticMu.RLock()
	factory, ok := statisticFactories[typeName]
	statisticMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown statistic type %q", typeName)
	}
	return factory(v)
}

func init() {
	RegisterStatistic("intMin", func(v Value) (Statistic, error) {
		n, ok := v.(Int)
		if !ok {
			return nil, fmt.Errorf("intMin: expected int, got %s", typeOf(v))
		}
		return &IntMin{Min: int64(n)}, nil
	})
	RegisterStatistic("intMax", func(v Value) (Statistic, error) {
		n, ok := v.(Int)
		if !ok {
			return nil, fmt.Errorf("intMax: expected int, got %s", typeOf(v))
		}
		return &IntMax{Max: int64(n)}, nil
	})
	RegisterStatistic("count", func(v Value) (Statistic, error) {
		n, ok := v.(Int)
		if !ok || n < 0 {
			return nil, fmt.Errorf("count: expected non-negative int, got %s", Format(v))
		}
		return &Count{N: int64(n)}, nil
	})
}

func typeOf(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.TypeName()
}

// StatisticMismatchError is returned when two statistics of different
// types are merged.
type StatisticMismatchError struct {
	Local string
	Other string
}

func (e *StatisticMismatchError) Error() string {
	return fmt.Sprintf("cannot merge statistic %s into %s", e.Other, e.Local)
}

// IntMin keeps the smallest value seen.
type IntMin struct {
	Min int64
}

func (s *IntMin) Type() string { return "intMin" }
func (s *IntMin) Value() Value { return Int(s.Min) }

func (s *IntMin) Clone() Statistic {
	c := *s
	return &c
}

func (s *IntMin) Merge(other Statistic) error {
	o, ok := other.(*IntMin)
	if !ok {
		return &StatisticMismatchError{Local: s.Type(), Other: other.Type()}
	}
	s.Min = min(s.Min, o.Min)
	return nil
}

// IntMax keeps the largest value seen.
type IntMax struct {
	Max int64
}

func (s *IntMax) Type() string { return "intMax" }
func (s *IntMax) Value() Value { return Int(s.Max) }

func (s *IntMax) Clone() Statistic {
	c := *s
	return &c
}

func (s *IntMax) Merge(other Statistic) error {
	o, ok := other.(*IntMax)
	if !ok {
		return &StatisticMismatchError{Local: s.Type(), Other: other.Type()}
	}
	s.Max = max(s.Max, o.Max)
	return nil
}

// Count adds up occurrences.
type Count struct {
	N int64
}

func (s *Count) Type() string { return "count" }
func (s *Count) Value() Value { return Int(s.N) }

func (s *Count) Clone() Statistic {
	c := *s
	return &c
}

func (s *Count) Merge(other Statistic) error {
	o, ok := other.(*Count)
	if !ok {
		return &StatisticMismatchError{Local: s.Type(), Other: other.Type()}
	}
	s.N += o.N
	return nil
}

// Statistics maps statistic names to statistics.
type Statistics map[string]Statistic

// Clone deep-copies the map.
func (s Statistics) Clone() Statistics {
	if s == nil {
		return nil
	}
	out := make(Statistics, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Merge folds other into s by name. Names only present in other are
// copied in. On error s may be partially merged.
func (s Statistics) Merge(other Statistics) error {
	for _, name := range other.names() {
		o := other[name]
		local, ok := s[name]
		if !ok {
			s[name] = o.Clone()
			continue
		}
		if err := local.Merge(o); err != nil {
			return fmt.Errorf("statistic %q: %w", name, err)
		}
	}
	return nil
}

func (s Statistics) names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

type statisticDoc struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON writes {"name":{"type":..,"value":..}} with sorted names.
func (s Statistics) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names() {
		if i > 0 {
			buf.WriteByte(',')
		}
		st := s[name]
		val, err := MarshalValue(st.Value())
		if err != nil {
			return nil, fmt.Errorf("statistic %q: %w", name, err)
		}
		doc, err := json.Marshal(statisticDoc{Type: st.Type(), Value: val})
		if err != nil {
			return nil, err
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(doc)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes registered statistic types.
func (s *Statistics) UnmarshalJSON(data []byte) error {
	var raw map[string]statisticDoc
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Statistics, len(raw))
	for name, doc := range raw {
		v, err := UnmarshalValue(doc.Value)
		if err != nil {
			return fmt.Errorf("statistic %q: %w", name, err)
		}
		st, err := NewStatistic(doc.Type, v)
		if err != nil {
			return fmt.Errorf("statistic %q: %w", name, err)
		}
		out[name] = st
	}
	*s = out
	return nil
}
