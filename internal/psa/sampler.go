package psa

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/rgehrsitz/cohortsim/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws one value of an uncertain parameter. Samplers are immutable;
// all randomness comes from the source passed to Draw.
type Sampler interface {
	Draw(src rand.Source) float64
	Describe() string
}

func invalid(family, reason string) error {
	return domain.NewModelError(domain.ErrInvalidDistributionParameters, family, reason, nil)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// GammaSampler is a gamma distribution given by mean and standard deviation.
type GammaSampler struct {
	Mean, SD    float64
	shape, rate float64
}

// Gamma converts mean/sd to shape = mean²/sd² and rate = mean/sd².
func Gamma(mean, sd float64) (*GammaSampler, error) {
	if !finite(mean, sd) || mean <= 0 {
		return nil, invalid("gamma", fmt.Sprintf("mean must be positive, got %g", mean))
	}
	if sd <= 0 {
		return nil, invalid("gamma", fmt.Sprintf("sd must be positive, got %g", sd))
	}
	return &GammaSampler{
		Mean:  mean,
		SD:    sd,
		shape: mean * mean / (sd * sd),
		rate:  mean / (sd * sd),
	}, nil
}

func (g *GammaSampler) Draw(src rand.Source) float64 {
	return distuv.Gamma{Alpha: g.shape, Beta: g.rate, Src: src}.Rand()
}

func (g *GammaSampler) Describe() string {
	return fmt.Sprintf("gamma(mean=%g, sd=%g)", g.Mean, g.SD)
}

// BinomialSampler draws from a binomial distribution. With Proportion set it
// returns successes/size, the form used for probabilities estimated from a
// trial of the given size.
type BinomialSampler struct {
	Prob       float64
	Size       int
	Proportion bool
}

// BinomialProportion samples k/size with k ~ Binomial(size, prob).
func BinomialProportion(prob float64, size int) (*BinomialSampler, error) {
	b, err := binomial(prob, size)
	if err != nil {
		return nil, err
	}
	b.Proportion = true
	return b, nil
}

// BinomialCount samples k ~ Binomial(size, prob).
func BinomialCount(prob float64, size int) (*BinomialSampler, error) {
	return binomial(prob, size)
}

func binomial(prob float64, size int) (*BinomialSampler, error) {
	if !finite(prob) || prob <= 0 || prob >= 1 {
		return nil, invalid("binomial", fmt.Sprintf("prob must be in (0,1), got %g", prob))
	}
	if size < 1 {
		return nil, invalid("binomial", fmt.Sprintf("size must be at least 1, got %d", size))
	}
	return &BinomialSampler{Prob: prob, Size: size}, nil
}

func (b *BinomialSampler) Draw(src rand.Source) float64 {
	k := distuv.Binomial{N: float64(b.Size), P: b.Prob, Src: src}.Rand()
	if b.Proportion {
		return k / float64(b.Size)
	}
	return k
}

func (b *BinomialSampler) Describe() string {
	if b.Proportion {
		return fmt.Sprintf("binomial proportion(prob=%g, size=%d)", b.Prob, b.Size)
	}
	return fmt.Sprintf("binomial(prob=%g, size=%d)", b.Prob, b.Size)
}

// BetaSampler is a beta distribution given by mean and standard deviation.
type BetaSampler struct {
	Mean, SD    float64
	alpha, beta float64
}

// Beta converts mean/sd to shape parameters by the method of moments.
func Beta(mean, sd float64) (*BetaSampler, error) {
	if !finite(mean, sd) || mean <= 0 || mean >= 1 {
		return nil, invalid("beta", fmt.Sprintf("mean must be in (0,1), got %g", mean))
	}
	if sd <= 0 || sd*sd >= mean*(1-mean) {
		return nil, invalid("beta", fmt.Sprintf("sd must be in (0, sqrt(mean*(1-mean))), got %g", sd))
	}
	common := mean*(1-mean)/(sd*sd) - 1
	return &BetaSampler{Mean: mean, SD: sd, alpha: mean * common, beta: (1 - mean) * common}, nil
}

func (b *BetaSampler) Draw(src rand.Source) float64 {
	return distuv.Beta{Alpha: b.alpha, Beta: b.beta, Src: src}.Rand()
}

func (b *BetaSampler) Describe() string {
	return fmt.Sprintf("beta(mean=%g, sd=%g)", b.Mean, b.SD)
}

// NormalSampler is a normal distribution.
type NormalSampler struct {
	Mean, SD float64
}

// Normal returns a normal sampler; sd must be positive.
func Normal(mean, sd float64) (*NormalSampler, error) {
	if !finite(mean, sd) || sd <= 0 {
		return nil, invalid("normal", fmt.Sprintf("sd must be positive, got %g", sd))
	}
	return &NormalSampler{Mean: mean, SD: sd}, nil
}

func (n *NormalSampler) Draw(src rand.Source) float64 {
	return distuv.Normal{Mu: n.Mean, Sigma: n.SD, Src: src}.Rand()
}

func (n *NormalSampler) Describe() string {
	return fmt.Sprintf("normal(mean=%g, sd=%g)", n.Mean, n.SD)
}

// LogNormalSampler is a log-normal distribution on the log scale.
type LogNormalSampler struct {
	MeanLog, SDLog float64
}

// LogNormal returns a log-normal sampler; sdlog must be positive.
func LogNormal(meanlog, sdlog float64) (*LogNormalSampler, error) {
	if !finite(meanlog, sdlog) || sdlog <= 0 {
		return nil, invalid("lognormal", fmt.Sprintf("sdlog must be positive, got %g", sdlog))
	}
	return &LogNormalSampler{MeanLog: meanlog, SDLog: sdlog}, nil
}

func (l *LogNormalSampler) Draw(src rand.Source) float64 {
	return distuv.LogNormal{Mu: l.MeanLog, Sigma: l.SDLog, Src: src}.Rand()
}

func (l *LogNormalSampler) Describe() string {
	return fmt.Sprintf("lognormal(meanlog=%g, sdlog=%g)", l.MeanLog, l.SDLog)
}

// UniformSampler is a continuous uniform distribution.
type UniformSampler struct {
	Min, Max float64
}

// Uniform returns a uniform sampler; min must be below max.
func Uniform(min, max float64) (*UniformSampler, error) {
	if !finite(min, max) || min >= max {
		return nil, invalid("uniform", fmt.Sprintf("min must be below max, got [%g, %g]", min, max))
	}
	return &UniformSampler{Min: min, Max: max}, nil
}

func (u *UniformSampler) Draw(src rand.Source) float64 {
	return distuv.Uniform{Min: u.Min, Max: u.Max, Src: src}.Rand()
}

func (u *UniformSampler) Describe() string {
	return fmt.Sprintf("uniform(min=%g, max=%g)", u.Min, u.Max)
}

// SamplerFactory builds a sampler from named arguments.
type SamplerFactory func(args map[string]float64) (Sampler, error)

var factories = map[string]struct {
	args    []string
	factory SamplerFactory
}{
	"gamma": {[]string{"mean", "sd"}, func(a map[string]float64) (Sampler, error) {
		return Gamma(a["mean"], a["sd"])
	}},
	"binomial": {[]string{"prob", "size"}, func(a map[string]float64) (Sampler, error) {
		size, err := sizeArg("binomial", a["size"])
		if err != nil {
			return nil, err
		}
		return BinomialProportion(a["prob"], size)
	}},
	"binomial_count": {[]string{"prob", "size"}, func(a map[string]float64) (Sampler, error) {
		size, err := sizeArg("binomial_count", a["size"])
		if err != nil {
			return nil, err
		}
		return BinomialCount(a["prob"], size)
	}},
	"beta": {[]string{"mean", "sd"}, func(a map[string]float64) (Sampler, error) {
		return Beta(a["mean"], a["sd"])
	}},
	"normal": {[]string{"mean", "sd"}, func(a map[string]float64) (Sampler, error) {
		return Normal(a["mean"], a["sd"])
	}},
	"lognormal": {[]string{"meanlog", "sdlog"}, func(a map[string]float64) (Sampler, error) {
		return LogNormal(a["meanlog"], a["sdlog"])
	}},
	"uniform": {[]string{"min", "max"}, func(a map[string]float64) (Sampler, error) {
		return Uniform(a["min"], a["max"])
	}},
}

func sizeArg(family string, v float64) (int, error) {
	if v != math.Trunc(v) || v < 1 || !finite(v) {
		return 0, invalid(family, fmt.Sprintf("size must be a positive integer, got %g", v))
	}
	return int(v), nil
}

// NewSampler builds a sampler of the named family. Every argument the family
// needs must be present and no others may be given.
func NewSampler(family string, args map[string]float64) (Sampler, error) {
	f, ok := factories[strings.ToLower(family)]
	if !ok {
		return nil, invalid(family, "unknown distribution (valid: "+strings.Join(Families(), ", ")+")")
	}
	for _, name := range f.args {
		if _, ok := args[name]; !ok {
			return nil, invalid(family, "missing argument "+name)
		}
	}
	if len(args) != len(f.args) {
		for name := range args {
			if !contains(f.args, name) {
				return nil, invalid(family, "unexpected argument "+name)
			}
		}
	}
	return f.factory(args)
}

// Families lists the supported distribution names.
func Families() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
