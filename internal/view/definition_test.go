package view

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedgraph/internal/element"
)

func moreThan(n int64) *IsMoreThan {
	return &IsMoreThan{Value: element.Literal{Value: element.Int(n)}}
}

func TestSetOnceFilters(t *testing.T) {
	setters := map[string]func(b *DefinitionBuilder) error{
		"preAggregationFilter": func(b *DefinitionBuilder) error {
			return b.SetPreAggregationFilter(Select(&Exists{}, "age"))
		},
		"postAggregationFilter": func(b *DefinitionBuilder) error {
			return b.SetPostAggregationFilter(Select(&Exists{}, "age"))
		},
		"postTransformFilter": func(b *DefinitionBuilder) error {
			return b.SetPostTransformFilter(Select(&Exists{}, "age"))
		},
		"transformer": func(b *DefinitionBuilder) error {
			return b.SetTransformer(Transform(&Identity{}, []string{"a"}, "a"))
		},
	}
	for field, set := range setters {
		t.Run(field, func(t *testing.T) {
			b := NewDefinitionBuilder()
			require.NoError(t, set(b))

			err := set(b)
			require.Error(t, err)
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, field, ce.Field)
		})
	}
}

func TestSetEmptyFilterCountsAsSet(t *testing.T) {
	b := NewDefinitionBuilder()
	require.NoError(t, b.SetPreAggregationFilter())
	assert.True(t, IsConfigurationError(b.SetPreAggregationFilter(Select(&Exists{}, "x"))))
}

func TestBuildIsIsolatedFromBuilder(t *testing.T) {
	b := NewDefinitionBuilder()
	require.NoError(t, b.TransientProperty("label", element.TypeString))
	def := b.Build()

	require.NoError(t, b.TransientProperty("extra", element.TypeInt))
	b.GroupBy("since")

	assert.Len(t, def.TransientProperties(), 1)
	assert.False(t, def.GroupBy().IsSet())
}

func TestTransientPropertyRedeclare(t *testing.T) {
	b := NewDefinitionBuilder()
	require.NoError(t, b.TransientProperty("label", element.TypeString))
	require.NoError(t, b.TransientProperty("label", element.TypeString))
	assert.True(t, IsConfigurationError(b.TransientProperty("label", element.TypeInt)))
	assert.True(t, IsConfigurationError(b.TransientProperty("x", "float")))
}

func TestMergeTransientProperties(t *testing.T) {
	a := NewDefinitionBuilder()
	require.NoError(t, a.TransientProperty("x", element.TypeString))
	require.NoError(t, a.TransientProperty("y", element.TypeInt))

	b := NewDefinitionBuilder()
	require.NoError(t, b.TransientProperty("z", element.TypeBool))
	require.NoError(t, b.TransientProperty("x", element.TypeString))

	ab := EditDefinition(a.Build())
	require.NoError(t, ab.Merge(b.Build()))
	ba := EditDefinition(b.Build())
	require.NoError(t, ba.Merge(a.Build()))

	names := func(d *ElementDefinition) []string {
		var out []string
		for _, tp := range d.TransientProperties() {
			out = append(out, tp.Name)
		}
		return out
	}
	assert.Equal(t, []string{"x", "y", "z"}, names(ab.Build()), "local entries first, then other's new ones")
	assert.Equal(t, []string{"z", "x", "y"}, names(ba.Build()))
	assert.ElementsMatch(t, names(ab.Build()), names(ba.Build()), "same set either way")
}

func TestMergeTransientConflict(t *testing.T) {
	a := NewDefinitionBuilder()
	require.NoError(t, a.TransientProperty("age", element.TypeInt))
	b := NewDefinitionBuilder()
	require.NoError(t, b.TransientProperty("other", element.TypeBool))
	require.NoError(t, b.TransientProperty("age", element.TypeString))

	err := a.Merge(b.Build())
	require.Error(t, err)
	var me *MergeConflictError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "age", me.Property)
	assert.Equal(t, "int", me.LocalType)
	assert.Equal(t, "string", me.OtherType)
	assert.Contains(t, err.Error(), `"age"`)

	_, declared := a.Build().TransientType("other")
	assert.False(t, declared, "a failed merge leaves the builder unchanged")
}

func TestMergeFiltersAppend(t *testing.T) {
	a := NewDefinitionBuilder()
	require.NoError(t, a.SetPreAggregationFilter(Select(moreThan(1), "age")))
	b := NewDefinitionBuilder()
	require.NoError(t, b.SetPreAggregationFilter(Select(moreThan(2), "age")))
	require.NoError(t, b.SetPostAggregationFilter(Select(moreThan(3), "age")))
	require.NoError(t, b.SetTransformer(Transform(&ToString{}, []string{"age"}, "label")))

	require.NoError(t, a.Merge(b.Build()))
	def := a.Build()

	pre := def.PreAggregationFilter()
	require.Len(t, pre.Steps, 2)
	assert.Equal(t, element.Int(1), pre.Steps[0].Predicate.(*IsMoreThan).Value.Value)
	assert.Equal(t, element.Int(2), pre.Steps[1].Predicate.(*IsMoreThan).Value.Value)

	post := def.PostAggregationFilter()
	require.Len(t, post.Steps, 1, "unset local container adopts other's")
	assert.Nil(t, def.PostTransformFilter(), "unset on both sides stays unset")
	require.Len(t, def.Transformer().Steps, 1)

	// Adopted containers count as set.
	assert.True(t, IsConfigurationError(a.SetPostAggregationFilter()))
}

func TestMergeDoesNotAliasOther(t *testing.T) {
	b := NewDefinitionBuilder()
	require.NoError(t, b.SetPreAggregationFilter(Select(moreThan(1), "age")))
	other := b.Build()

	a := NewDefinitionBuilder()
	require.NoError(t, a.Merge(other))
	require.NoError(t, a.Merge(other))

	assert.Len(t, a.Build().PreAggregationFilter().Steps, 2)
	assert.Len(t, other.PreAggregationFilter().Steps, 1)
}

func TestGroupByTriState(t *testing.T) {
	assert.False(t, InheritGroupBy().IsSet())
	assert.True(t, SummariseAll().IsSummariseAll())
	assert.True(t, GroupByProperties().IsSummariseAll())
	assert.Equal(t, []string{"a", "b"}, GroupByProperties("a", "b", "a").Properties())

	assert.Equal(t, []string{"since"}, InheritGroupBy().Resolve([]string{"since"}))
	assert.Empty(t, SummariseAll().Resolve([]string{"since"}))

	b := NewDefinitionBuilder()
	assert.False(t, b.Build().GroupBy().IsSet())
	b.GroupBy()
	assert.True(t, b.Build().GroupBy().IsSummariseAll(), "first call establishes the override")
	b.GroupBy("since")
	assert.Equal(t, []string{"since"}, b.Build().GroupBy().Properties())
}

func TestGroupByMerge(t *testing.T) {
	tests := []struct {
		name  string
		local GroupBy
		other GroupBy
		want  GroupBy
	}{
		{"both unset", InheritGroupBy(), InheritGroupBy(), InheritGroupBy()},
		{"other unset keeps local", GroupByProperties("a"), InheritGroupBy(), GroupByProperties("a")},
		{"local unset adopts other", InheritGroupBy(), GroupByProperties("a"), GroupByProperties("a")},
		{"unset adopts summarise-all", InheritGroupBy(), SummariseAll(), SummariseAll()},
		{"summarise-all kept over unset", SummariseAll(), InheritGroupBy(), SummariseAll()},
		{"both empty", SummariseAll(), SummariseAll(), SummariseAll()},
		{"union", GroupByProperties("a", "b"), GroupByProperties("b", "c"), GroupByProperties("a", "b", "c")},
		{"summarise-all kept over properties", SummariseAll(), GroupByProperties("a"), SummariseAll()},
		{"properties give way to summarise-all", GroupByProperties("since"), SummariseAll(), SummariseAll()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewDefinitionBuilder().SetGroupBy(tt.local)
			b := NewDefinitionBuilder().SetGroupBy(tt.other)
			require.NoError(t, a.Merge(b.Build()))

			got := a.Build().GroupBy()
			assert.Equal(t, tt.want.IsSet(), got.IsSet())
			assert.Equal(t, tt.want.IsSummariseAll(), got.IsSummariseAll())
			assert.Equal(t, tt.want.Properties(), got.Properties())
		})
	}
}

func TestViewBuilderMerge(t *testing.T) {
	person := NewDefinitionBuilder()
	require.NoError(t, person.SetPreAggregationFilter(Select(moreThan(18), "age")))

	base := NewBuilder()
	require.NoError(t, base.Entity("Person", person.Build()))
	v1 := base.Build()

	knows := NewDefinitionBuilder().GroupBy()
	more := NewBuilder()
	require.NoError(t, more.Entity("Person", person.Build()))
	require.NoError(t, more.Edge("Knows", knows.Build()))
	v2 := more.Build()

	merged, err := MergeViews(v1, v2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, merged.EntityGroups())
	assert.Equal(t, []string{"Knows"}, merged.EdgeGroups())

	def, ok := merged.Entity("Person")
	require.True(t, ok)
	assert.Len(t, def.PreAggregationFilter().Steps, 2)

	// Inputs are untouched.
	def1, _ := v1.Entity("Person")
	assert.Len(t, def1.PreAggregationFilter().Steps, 1)
	assert.True(t, v1.Equal(v1.Clone()))
	assert.False(t, v1.Equal(merged))
}

func TestViewMergeConflictNamesProperty(t *testing.T) {
	a := NewDefinitionBuilder()
	require.NoError(t, a.TransientProperty("age", element.TypeInt))
	b := NewDefinitionBuilder()
	require.NoError(t, b.TransientProperty("age", element.TypeString))

	va := NewBuilder()
	require.NoError(t, va.Entity("Person", a.Build()))
	vb := NewBuilder()
	require.NoError(t, vb.Entity("Person", b.Build()))

	_, err := MergeViews(va.Build(), vb.Build())
	require.Error(t, err)
	assert.True(t, IsMergeConflictError(err))
	assert.Contains(t, err.Error(), "age")
}

func TestNilViewAccessors(t *testing.T) {
	var v *View
	_, ok := v.Entity("Person")
	assert.False(t, ok)
	assert.True(t, v.IsEmpty())
	assert.Nil(t, v.Clone())
}
