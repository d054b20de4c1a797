package element

import "fmt"

// Decoded is an element read back from a store together with its
// statistics payload.
type Decoded struct {
	Element    Element    `json:"element"`
	Statistics Statistics `json:"statistics,omitempty"`

	// MatchedVertex is set for edges found from an entity seed.
	MatchedVertex MatchedVertex `json:"-"`
}

// Clone returns an independent copy.
func (d Decoded) Clone() Decoded {
	return Decoded{
		Element:       d.Element.Clone(),
		Statistics:    d.Statistics.Clone(),
		MatchedVertex: d.MatchedVertex,
	}
}

// AggregateFunc combines two values of the same property.
type AggregateFunc func(property string, local, other Value) (Value, error)

// Merge folds other into d. The caller guarantees both describe the same
// element and aggregation key. Properties present on only one side are
// kept; properties on both sides are combined with agg.
func (d *Decoded) Merge(other Decoded, agg AggregateFunc) error {
	if d.Element.Identity() != other.Element.Identity() {
		return fmt.Errorf("merge %s into %s: different elements", other.Element, d.Element)
	}
	if len(other.Element.Properties) > 0 && d.Element.Properties == nil {
		d.Element.Properties = make(Properties, len(other.Element.Properties))
	}
	for _, name := range other.Element.Properties.SortedKeys() {
		ov := other.Element.Properties[name]
		lv, ok := d.Element.Properties[name]
		if !ok {
			d.Element.Properties[name] = cloneValue(ov)
			continue
		}
		merged, err := agg(name, lv, ov)
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		d.Element.Properties[name] = merged
	}
	if len(other.Statistics) == 0 {
		return nil
	}
	if d.Statistics == nil {
		d.Statistics = make(Statistics, len(other.Statistics))
	}
	return d.Statistics.Merge(other.Statistics)
}
