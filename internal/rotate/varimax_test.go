package rotate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"dfasim/internal/dfa"
)

func simulatedLoadings(t *testing.T, n, m int, seed int64) *mat.Dense {
	t.Helper()
	z, err := dfa.BuildLoadings(n, m, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return z
}

func TestVarimax_RotationIsOrthogonal(t *testing.T) {
	z := simulatedLoadings(t, 12, 3, 42)

	rotated, r, err := Varimax(z, Options{})
	require.NoError(t, err)

	// R'R = I
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	id := identity(3)
	assert.True(t, mat.EqualApprox(&rtr, id, 1e-9), "rotation must be orthogonal")

	// rotated = Z*R
	var want mat.Dense
	want.Mul(z, r)
	assert.True(t, mat.EqualApprox(rotated, &want, 1e-12))
}

func TestVarimax_PreservesCommunalities(t *testing.T) {
	z := simulatedLoadings(t, 10, 3, 7)

	rotated, _, err := Varimax(z, Options{})
	require.NoError(t, err)

	// orthogonal rotation preserves each row's squared norm
	n, m := z.Dims()
	for i := 0; i < n; i++ {
		orig, rot := 0.0, 0.0
		for j := 0; j < m; j++ {
			orig += z.At(i, j) * z.At(i, j)
			rot += rotated.At(i, j) * rotated.At(i, j)
		}
		assert.InDelta(t, orig, rot, 1e-9, "row %d communality", i)
	}
}

func TestVarimax_SingleFactorIsIdentity(t *testing.T) {
	z := simulatedLoadings(t, 6, 1, 3)

	rotated, r, err := Varimax(z, Options{})
	require.NoError(t, err)
	assert.True(t, mat.Equal(rotated, z))
	assert.InDelta(t, 1, r.At(0, 0), 1e-12)
}

func TestVarimax_IteratesToConvergence(t *testing.T) {
	// a tight tolerance keeps the iteration running well past the first
	// pass; the rotation must still come out orthogonal
	z := simulatedLoadings(t, 20, 4, 99)

	rotated, r, err := Varimax(z, Options{MaxIter: 50, Tol: 1e-12})
	require.NoError(t, err)
	require.NotNil(t, rotated)

	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	assert.True(t, mat.EqualApprox(&rtr, identity(4), 1e-9))
}

func TestVarimax_NilInput(t *testing.T) {
	_, _, err := Varimax(nil, Options{})
	assert.Error(t, err)
}

func TestApplyRotation_PreservesCommonComponent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x, err := dfa.SimulateFactors(3, 40, rng)
	require.NoError(t, err)
	z, err := dfa.BuildLoadings(12, 3, rng)
	require.NoError(t, err)

	_, r, err := Varimax(z, Options{})
	require.NoError(t, err)

	zr, xr, err := ApplyRotation(z, x, r)
	require.NoError(t, err)

	var before, after mat.Dense
	before.Mul(z, x)
	after.Mul(zr, xr)
	assert.True(t, mat.EqualApprox(&before, &after, 1e-9), "Z*X must survive rotation")
}

func TestApplyRotation_DimensionChecks(t *testing.T) {
	z := simulatedLoadings(t, 6, 2, 1)
	x := mat.NewDense(3, 10, nil) // wrong factor count
	r := identity(2)

	_, _, err := ApplyRotation(z, x, r)
	assert.Error(t, err)

	_, _, err = ApplyRotation(z, nil, r)
	assert.Error(t, err)
}
