package operation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedgraph/internal/element"
	"github.com/roach88/fedgraph/internal/view"
)

func personView(t *testing.T, groupBy ...string) *view.View {
	t.Helper()
	b := view.NewBuilder()
	require.NoError(t, b.Entity("Person", view.NewDefinitionBuilder().GroupBy(groupBy...).Build()))
	return b.Build()
}

func TestShallowCloneIsolation(t *testing.T) {
	orig := &Operation{
		Kind:     KindAddElements,
		Seeds:    []element.Seed{element.EntitySeed{Vertex: "a"}},
		Elements: []element.Element{element.NewEntity("Person", "a", element.Properties{"age": element.Int(1)})},
		View:     personView(t, "since"),
		Options:  map[string]string{OptionSummarise: "true"},
	}
	before := orig.View.String()

	clone := orig.ShallowClone()
	clone.SetOption(OptionSummarise, "false")
	clone.SetOption(OptionGraphIDs, "g1")
	clone.Seeds[0] = element.EntitySeed{Vertex: "b"}
	clone.Elements[0].Properties["age"] = element.Int(99)

	b := view.NewBuilder()
	require.NoError(t, b.Merge(clone.View))
	require.NoError(t, b.Merge(personView(t, "weight")))
	clone.View = b.Build()

	assert.Equal(t, map[string]string{OptionSummarise: "true"}, orig.Options)
	assert.Equal(t, element.EntitySeed{Vertex: "a"}, orig.Seeds[0])
	assert.Equal(t, element.Int(1), orig.Elements[0].Properties["age"])
	assert.Equal(t, before, orig.View.String())
	assert.NotEqual(t, before, clone.View.String())
}

func TestShallowCloneNilFields(t *testing.T) {
	clone := (&Operation{Kind: KindGetAllElements}).ShallowClone()
	assert.Nil(t, clone.View)
	assert.Nil(t, clone.Elements)
	assert.Nil(t, clone.Options)
}

func TestBoolOption(t *testing.T) {
	op := &Operation{Kind: KindGetAllElements}
	v, err := op.BoolOption(OptionSummarise, true)
	require.NoError(t, err)
	assert.True(t, v)

	op.SetOption(OptionSummarise, "false")
	v, err = op.BoolOption(OptionSummarise, true)
	require.NoError(t, err)
	assert.False(t, v)

	op.SetOption(OptionSummarise, "maybe")
	_, err = op.BoolOption(OptionSummarise, true)
	assert.True(t, IsValidationError(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		ok   bool
	}{
		{"get elements needs seeds", Operation{Kind: KindGetElements}, false},
		{"get elements", Operation{Kind: KindGetElements, Seeds: []element.Seed{element.EntitySeed{Vertex: "a"}}}, true},
		{"adjacent ids rejects edge seeds", Operation{Kind: KindGetAdjacentIds, Seeds: []element.Seed{element.EdgeSeed{Source: "a", Destination: "b"}}}, false},
		{"add elements needs elements", Operation{Kind: KindAddElements}, false},
		{"add no elements", Operation{Kind: KindAddElements, Elements: []element.Element{}}, true},
		{"count", Operation{Kind: KindCountAllElements}, true},
		{"unknown", Operation{Kind: "Explode"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsValidationError(err), "got %v", err)
			}
		})
	}
}

func TestReturnsSequence(t *testing.T) {
	assert.True(t, KindGetElements.ReturnsSequence())
	assert.True(t, KindGetAdjacentIds.ReturnsSequence())
	assert.False(t, KindCountAllElements.ReturnsSequence())
	assert.False(t, KindGetSchema.ReturnsSequence())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(KindCountAllElements, HandlerFunc(func(_ context.Context, op *Operation, ectx Context) (Result, error) {
		return Scalar(int64(len(ectx.MemberID))), nil
	}))

	err := r.Validate(Kinds()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GetElements")
	assert.Contains(t, err.Error(), "GetSchema")
	assert.NotContains(t, err.Error(), "CountAllElements")
	assert.NoError(t, r.Validate(KindCountAllElements))

	res, err := r.Handle(context.Background(), &Operation{Kind: KindCountAllElements}, Context{MemberID: "abc"})
	require.NoError(t, err)
	assert.False(t, res.IsSequence())
	assert.Equal(t, int64(3), res.Value)

	_, err = r.Handle(context.Background(), &Operation{Kind: KindGetSchema}, Context{})
	var ue *UnregisteredKindError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, KindGetSchema, ue.Kind)
	assert.Equal(t, []Kind{KindCountAllElements}, r.Kinds())
}

func TestRegistryValidatesBeforeDispatch(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(KindGetElements, HandlerFunc(func(context.Context, *Operation, Context) (Result, error) {
		called = true
		return Sequence(element.Empty()), nil
	}))
	_, err := r.Handle(context.Background(), &Operation{Kind: KindGetElements}, Context{})
	assert.True(t, IsValidationError(err))
	assert.False(t, called)
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("first")
	r.Register(KindGetSchema, HandlerFunc(func(context.Context, *Operation, Context) (Result, error) {
		return Result{}, boom
	}))
	r.Register(KindGetSchema, HandlerFunc(func(context.Context, *Operation, Context) (Result, error) {
		return Scalar("second"), nil
	}))
	res, err := r.Handle(context.Background(), &Operation{Kind: KindGetSchema}, Context{})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Value)
}

func TestNewContext(t *testing.T) {
	ectx := NewContext("g1", User{ID: "alice"})
	parsed, err := uuid.Parse(ectx.CallID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Equal(t, "g1", ectx.MemberID)
}

func TestResultClose(t *testing.T) {
	assert.NoError(t, Scalar(1).Close())
	res := Sequence(element.FromSlice(element.Decoded{}))
	assert.True(t, res.IsSequence())
	assert.NoError(t, res.Close())
	assert.False(t, res.Iterator.Next(context.Background()))
}
