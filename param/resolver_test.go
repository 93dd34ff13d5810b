package param

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"networkteam.com/lab/pipelinecore/store"
)

// fakeSource is a minimal Source for tests that never needs to touch a
// real store.
type fakeSource struct {
	globals  []store.Param
	pipeline map[uint][]store.Param
}

func (f *fakeSource) GlobalParams() ([]store.Param, error) {
	return f.globals, nil
}

func (f *fakeSource) PipelineParams(pipelineID uint) ([]store.Param, error) {
	return f.pipeline[pipelineID], nil
}

func TestResolverValPlainString(t *testing.T) {
	r := Resolver{Source: &fakeSource{}}
	v, err := r.Val(&store.Param{Type: store.ParamString, Value: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Raw())
}

func TestResolverValBoolean(t *testing.T) {
	r := Resolver{Source: &fakeSource{}}
	v, err := r.Val(&store.Param{Type: store.ParamBoolean, Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, true, v.Raw())

	v, err = r.Val(&store.Param{Type: store.ParamBoolean, Value: "0"})
	require.NoError(t, err)
	assert.Equal(t, false, v.Raw())
}

func TestResolverValNumberInlinerUsesGlobal(t *testing.T) {
	src := &fakeSource{
		globals: []store.Param{
			{ID: 1, Name: "base", Type: store.ParamNumber, Value: "10"},
		},
	}
	r := Resolver{Source: src}

	pipelineID := uint(5)
	v, err := r.Val(&store.Param{
		Type:       store.ParamNumber,
		PipelineID: &pipelineID,
		Value:      "{% base + 5 %}",
	})
	require.NoError(t, err)
	assert.True(t, v.IsNumber())
	assert.Equal(t, 15, v.Number())
}

func TestResolverValForJobSeesPipelineParams(t *testing.T) {
	pipelineID := uint(7)
	src := &fakeSource{
		pipeline: map[uint][]store.Param{
			pipelineID: {
				{ID: 2, Name: "region", Type: store.ParamString, Value: "eu"},
			},
		},
	}
	r := Resolver{Source: src}

	jobID := uint(3)
	v, err := r.ValForJob(&store.Param{
		JobID: &jobID,
		Type:  store.ParamString,
		Value: "{% upper(region) %}",
	}, pipelineID)
	require.NoError(t, err)
	assert.Equal(t, "EU", v.Raw())
}

func TestResolverValStringList(t *testing.T) {
	r := Resolver{Source: &fakeSource{}}
	v, err := r.Val(&store.Param{Type: store.ParamStringList, Value: "a\nb\nc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, v.StringSlice())
}

func TestResolverValNumberListSkipsBlankLines(t *testing.T) {
	r := Resolver{Source: &fakeSource{}}
	v, err := r.Val(&store.Param{Type: store.ParamNumberList, Value: "1\n\n2\n3"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, v.NumberSlice())
}

func TestResolverValBadExpressionSurfacesError(t *testing.T) {
	r := Resolver{Source: &fakeSource{}}
	_, err := r.Val(&store.Param{Type: store.ParamString, Value: "{% unknownFn(1 %}"})
	assert.Error(t, err)
}

// TestNumberValueParseFailureFallsBackToZero pins the open-question decision
// that an unparseable number param value resolves to 0 rather than
// erroring.
func TestNumberValueParseFailureFallsBackToZero(t *testing.T) {
	r := Resolver{Source: &fakeSource{}}
	v, err := r.Val(&store.Param{Type: store.ParamNumber, Value: "not-a-number"})
	require.NoError(t, err)
	assert.Equal(t, 0, v.Number())
}
