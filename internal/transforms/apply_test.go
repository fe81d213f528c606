package transforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	f := monthly(100, 101, 102.01)

	out, err := Apply("mom", f)
	require.NoError(t, err)
	assertValues(t, []float64{nan, 1, 1}, out)

	out, err = Apply(" MA:2 ", f)
	require.NoError(t, err)
	assertValues(t, []float64{nan, 100.5, 101.505}, out)

	out, err = Apply("rebase:2020-02-01", f)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, out.Values()[1], 1e-9)

	_, err = Apply("rebase", f)
	assert.Error(t, err)

	_, err = Apply("ma:zero", f)
	assert.Error(t, err)

	_, err = Apply("stl", f)
	assert.ErrorIs(t, err, ErrUnknownTransform)
}

func TestApply_YoYUsesFrequency(t *testing.T) {
	q := quarterly(100, 100, 100, 100, 110)
	out, err := Apply("yoy", q)
	require.NoError(t, err)
	assertValues(t, []float64{nan, nan, nan, nan, 10}, out)

	out, err = Apply("yoy:1", q)
	require.NoError(t, err)
	assertValues(t, []float64{nan, 0, 0, 0, 10}, out)
}

func TestNames(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "yoy")
	assert.Contains(t, names, "ewm")
	assert.IsIncreasing(t, names)
}
