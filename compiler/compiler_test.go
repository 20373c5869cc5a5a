package compiler

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/model"
)

func sampleElements() ([]model.Element, []string) {
	return []model.Element{
			&model.Drift{L: 1},
			&model.Quadrupole{K1: 0.1, L: 0.5},
			&model.Drift{L: 2},
			&model.Multipole{Knl: []float64{0, 0.1, 0.2}},
			&model.Quadrupole{K1: -0.1, L: 0.5},
		},
		[]string{"d1", "qf", "d2", "sx", "qd"}
}

func TestCompileLayout(t *testing.T) {
	t.Parallel()
	els, names := sampleElements()
	lay, err := Compile(els, names, DefaultOptions())
	require.NoError(t, err)

	want := []model.Kind{model.KindDrift, model.KindQuadrupole, model.KindMultipole}
	if diff := cmp.Diff(want, lay.Registry.Kinds()); diff != "" {
		t.Errorf("registry order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{0, 1, 0, 2, 1}, lay.TypeIDs)
	assert.Equal(t, []int{0, 1, 4, 5, 15}, lay.Offsets)
	assert.Equal(t, []int{1, 3, 1, 10, 3}, lay.Sizes)

	for i, e := range els {
		assert.Equal(t, e.Encode(), lay.Words(i), names[i])
	}
	assert.Equal(t, []int{3}, lay.Indices("sx"))
	assert.Equal(t, 18, lay.Arena.UsedSize())
}

func TestCompileSharedRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(model.KindMultipole, model.KindDrift)
	els, names := sampleElements()

	_, err := Compile(els, names, CompileOptions{Registry: reg})
	require.ErrorIs(t, err, ErrUnregisteredKind)
	assert.Equal(t, 2, reg.Len(), "strict registry must not grow")

	lay, err := Compile(els, names, CompileOptions{Registry: reg, Extend: true})
	require.NoError(t, err)
	assert.Same(t, reg, lay.Registry)
	assert.Equal(t, []int{1, 2, 1, 0, 2}, lay.TypeIDs)
}

func TestCompileRejectsCollective(t *testing.T) {
	t.Parallel()
	_, err := Compile([]model.Element{&model.CollectiveKick{}}, []string{"c"}, DefaultOptions())
	assert.ErrorIs(t, err, ErrUnregisteredKind)
}

func TestCompileAddressLimit(t *testing.T) {
	t.Parallel()
	els, names := sampleElements()
	opts := DefaultOptions()
	opts.MaxWords = 8
	_, err := Compile(els, names, opts)
	assert.ErrorIs(t, err, ErrAddressLimit)
}

func TestLayoutUpdate(t *testing.T) {
	t.Parallel()
	els, names := sampleElements()
	lay, err := Compile(els, names, DefaultOptions())
	require.NoError(t, err)
	before := lay.Fingerprint()

	q := els[1].(*model.Quadrupole)
	q.K1 = 0.3
	require.NoError(t, lay.Update(1, q))
	assert.Equal(t, 0.3, lay.Words(1)[model.QuadK1])
	assert.NotEqual(t, before, lay.Fingerprint())
	assert.Equal(t, els[2].Encode(), lay.Words(2), "neighbours untouched")

	m := els[3].(*model.Multipole)
	m.Knl = append(m.Knl, 1)
	assert.ErrorIs(t, lay.Update(3, m), ErrSizeChanged)
	assert.ErrorIs(t, lay.Update(3, &model.Drift{}), ErrSizeChanged)
}

func TestLayoutSync(t *testing.T) {
	t.Parallel()
	els, names := sampleElements()
	lay, err := Compile(els, names, DefaultOptions())
	require.NoError(t, err)

	for i, e := range els {
		changed, err := lay.Sync(i, e)
		require.NoError(t, err)
		assert.False(t, changed, "element %d", i)
	}

	q := els[1].(*model.Quadrupole)
	q.K1 = -0.7
	changed, err := lay.Sync(1, q)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, -0.7, lay.Words(1)[model.QuadK1])

	changed, err = lay.Sync(1, q)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = lay.Sync(1, &model.Drift{L: 1})
	assert.ErrorIs(t, err, ErrSizeChanged)
}

func TestDispatchCache(t *testing.T) {
	t.Parallel()
	cache := NewDispatchCache()
	r1 := NewRegistry(model.KindDrift, model.KindBend)
	r2 := NewRegistry(model.KindDrift, model.KindBend)

	d1, err := cache.Get(r1)
	require.NoError(t, err)
	d2, err := cache.Get(r2)
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	assert.Equal(t, 1, cache.Builds())
	assert.Equal(t, []bool{true, false}, d1.Aperture)

	r1.Add(model.KindCavity)
	d3, err := cache.Get(r1)
	require.NoError(t, err)
	assert.NotSame(t, d1, d3)
	assert.Len(t, d3.Table, 3)

	_, err = cache.Get(NewRegistry(model.KindCollectiveKick))
	assert.ErrorIs(t, err, ErrUnregisteredKind)
}

func TestRegistrySignature(t *testing.T) {
	t.Parallel()
	r := NewRegistry(model.KindDrift, model.KindBend, model.KindDrift)
	assert.Equal(t, "Drift,Bend", r.Signature())
	c := r.Clone()
	c.Add(model.KindMarker)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, c.Len())
	id, ok := c.TypeID(model.KindMarker)
	assert.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestEmptyLayout(t *testing.T) {
	t.Parallel()
	lay, err := Compile(nil, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, lay.Len())
	assert.Equal(t, core.Checksum(nil), lay.Fingerprint())
}
