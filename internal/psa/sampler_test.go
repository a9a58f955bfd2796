package psa

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGammaSampler_MeanAndSupport(t *testing.T) {
	mean := 4925.76
	g, err := Gamma(mean, math.Sqrt(mean))
	require.NoError(t, err)

	const n = 200
	var sum float64
	for i := 0; i < n; i++ {
		v := g.Draw(rand.NewPCG(2024, uint64(i)))
		assert.GreaterOrEqual(t, v, 0.0, "gamma draws are non-negative")
		sum += v
	}
	assert.InEpsilon(t, mean, sum/n, 0.02)
}

func TestBinomialSampler(t *testing.T) {
	prop, err := BinomialProportion(0.3, 50)
	require.NoError(t, err)
	count, err := BinomialCount(0.3, 50)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		p := prop.Draw(rand.NewPCG(7, uint64(i)))
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)

		c := count.Draw(rand.NewPCG(7, uint64(i)))
		assert.Equal(t, math.Trunc(c), c, "counts are integral")
		assert.InDelta(t, c/50, p, 1e-12, "same source gives matching proportion and count")
	}
}

func TestSamplers_StayInSupport(t *testing.T) {
	beta, err := Beta(0.2, 0.05)
	require.NoError(t, err)
	logn, err := LogNormal(0, 0.5)
	require.NoError(t, err)
	unif, err := Uniform(10, 20)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		src := rand.NewPCG(1, uint64(i))
		b := beta.Draw(src)
		assert.True(t, b > 0 && b < 1, "beta draw %g", b)
		assert.Greater(t, logn.Draw(src), 0.0)
		u := unif.Draw(src)
		assert.True(t, u >= 10 && u <= 20, "uniform draw %g", u)
	}
}

func TestNewSampler_Validation(t *testing.T) {
	tests := []struct {
		name   string
		family string
		args   map[string]float64
	}{
		{"gamma zero sd", "gamma", map[string]float64{"mean": 10, "sd": 0}},
		{"gamma negative mean", "gamma", map[string]float64{"mean": -1, "sd": 1}},
		{"beta sd too large", "beta", map[string]float64{"mean": 0.5, "sd": 0.6}},
		{"beta mean outside", "beta", map[string]float64{"mean": 1.2, "sd": 0.1}},
		{"binomial prob outside", "binomial", map[string]float64{"prob": 1.5, "size": 10}},
		{"binomial fractional size", "binomial", map[string]float64{"prob": 0.5, "size": 2.5}},
		{"normal zero sd", "normal", map[string]float64{"mean": 0, "sd": 0}},
		{"uniform reversed", "uniform", map[string]float64{"min": 2, "max": 1}},
		{"missing argument", "gamma", map[string]float64{"mean": 10}},
		{"unexpected argument", "normal", map[string]float64{"mean": 0, "sd": 1, "shape": 2}},
		{"unknown family", "weibull", map[string]float64{"shape": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSampler(tt.family, tt.args)
			assert.Nil(t, s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidDistributionParameters), "got %v", err)
		})
	}
}

func TestNewSampler_Families(t *testing.T) {
	s, err := NewSampler("Gamma", map[string]float64{"mean": 10, "sd": 2})
	require.NoError(t, err)
	assert.Equal(t, "gamma(mean=10, sd=2)", s.Describe())

	s, err = NewSampler("binomial", map[string]float64{"prob": 0.1, "size": 100})
	require.NoError(t, err)
	assert.IsType(t, &BinomialSampler{}, s)
	assert.True(t, s.(*BinomialSampler).Proportion, "binomial defaults to a proportion")

	assert.Contains(t, Families(), "binomial_count")
	assert.Len(t, Families(), 7)
}
