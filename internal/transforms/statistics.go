package transforms

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/macroecon/internal/timeseries"
)

// Significance is the level the stationarity verdicts are drawn at.
const Significance = 0.05

// ErrTooShort is returned when a series has too few observations for a test.
var ErrTooShort = errors.New("transforms: series too short")

// StationarityResult is the outcome of a unit-root or stationarity test.
type StationarityResult struct {
	TestName       string             `json:"test_name"`
	Statistic      float64            `json:"statistic"`
	PValue         float64            `json:"p_value"`
	CriticalValues map[string]float64 `json:"critical_values"`
	IsStationary   bool               `json:"is_stationary"`
	Summary        string             `json:"summary"`
	Lags           int                `json:"lags"`
	NObs           int                `json:"nobs"`
}

func newResult(name string, statistic, p float64, crit map[string]float64, stationary bool, lags, nobs int) *StationarityResult {
	verdict := "Non-stationary"
	if stationary {
		verdict = "Stationary"
	}
	return &StationarityResult{
		TestName:       name,
		Statistic:      statistic,
		PValue:         p,
		CriticalValues: crit,
		IsStationary:   stationary,
		Summary:        fmt.Sprintf("%s statistic=%.4f, p=%.4f. %s at 5%% level.", name, statistic, p, verdict),
		Lags:           lags,
		NObs:           nobs,
	}
}

// clean returns the non-NaN values of f.
func clean(f *timeseries.Frame) []float64 {
	x := f.Values()
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func median(x []float64) float64 {
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

type olsFit struct {
	beta  []float64
	ssr   float64
	tvals []float64
	nobs  int
}

// ols fits y = X b by least squares.
func ols(x *mat.Dense, y []float64) (*olsFit, error) {
	n, k := x.Dims()
	if n <= k {
		return nil, ErrTooShort
	}

	var qr mat.QR
	qr.Factorize(x)
	var b mat.VecDense
	if err := qr.SolveVecTo(&b, false, mat.NewVecDense(n, y)); err != nil {
		return nil, fmt.Errorf("least squares: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &b)
	ssr := 0.0
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		ssr += r * r
	}

	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("singular design matrix: %w", err)
	}

	sigma2 := ssr / float64(n-k)
	fit := &olsFit{beta: make([]float64, k), tvals: make([]float64, k), ssr: ssr, nobs: n}
	for j := 0; j < k; j++ {
		fit.beta[j] = b.AtVec(j)
		fit.tvals[j] = fit.beta[j] / math.Sqrt(sigma2*inv.At(j, j))
	}
	return fit, nil
}

func (f *olsFit) aic() float64 {
	n := float64(f.nobs)
	llf := -n / 2 * (math.Log(2*math.Pi) + math.Log(f.ssr/n) + 1)
	return -2*llf + 2*float64(len(f.beta))
}

// adfDesign builds the Dickey-Fuller regression with a constant and lags
// lagged differences, dropping the first maxLag rows so regressions with
// different lag counts share a sample. Columns: level, lags, constant.
func adfDesign(x []float64, lags, maxLag int) (*mat.Dense, []float64) {
	dx := make([]float64, len(x)-1)
	for i := range dx {
		dx[i] = x[i+1] - x[i]
	}

	nobs := len(dx) - maxLag
	k := lags + 2
	design := mat.NewDense(nobs, k, nil)
	y := make([]float64, nobs)
	for r := 0; r < nobs; r++ {
		t := r + maxLag
		y[r] = dx[t]
		design.Set(r, 0, x[t])
		for j := 1; j <= lags; j++ {
			design.Set(r, j, dx[t-j])
		}
		design.Set(r, k-1, 1)
	}
	return design, y
}

// ADFTest is the augmented Dickey-Fuller test with a constant. The null
// hypothesis is a unit root. The lag order is chosen by AIC up to maxLags;
// maxLags <= 0 uses 12*(n/100)^(1/4).
func ADFTest(f *timeseries.Frame, maxLags int) (*StationarityResult, error) {
	x := clean(f)
	n := len(x)

	limit := n/2 - 2
	if maxLags <= 0 {
		maxLags = int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
		if maxLags > limit {
			maxLags = limit
		}
	}
	if maxLags < 0 || maxLags > limit {
		return nil, fmt.Errorf("%w: %d observations for ADF with %d lags", ErrTooShort, n, maxLags)
	}

	bestLag, bestAIC := 0, math.Inf(1)
	for lag := 0; lag <= maxLags; lag++ {
		design, y := adfDesign(x, lag, maxLags)
		fit, err := ols(design, y)
		if err != nil {
			return nil, err
		}
		if aic := fit.aic(); aic < bestAIC {
			bestLag, bestAIC = lag, aic
		}
	}

	design, y := adfDesign(x, bestLag, bestLag)
	fit, err := ols(design, y)
	if err != nil {
		return nil, err
	}

	statistic := fit.tvals[0]
	p := mackinnonP(statistic)
	crit := mackinnonCrit(fit.nobs)
	return newResult("ADF", statistic, p, crit, p < Significance, bestLag, fit.nobs), nil
}

// MacKinnon (1994, 2010) response surface for one variable with a constant.
var (
	adfSmallP = []float64{2.1659, 1.4412, 0.038269}
	adfLargeP = []float64{1.7339, 0.93202, -0.12745, -0.010368}
	adfCrit   = map[string][]float64{
		"1%":  {-3.43035, -6.5393, -16.786, -79.433},
		"5%":  {-2.86154, -2.8903, -4.234, -40.040},
		"10%": {-2.56677, -1.5384, -2.809, 0},
	}
)

const (
	adfMaxStat  = 2.74
	adfMinStat  = -18.83
	adfStarStat = -1.61
)

func polyval(coef []float64, x float64) float64 {
	out := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		out = out*x + coef[i]
	}
	return out
}

func mackinnonP(statistic float64) float64 {
	switch {
	case statistic > adfMaxStat:
		return 1
	case statistic < adfMinStat:
		return 0
	case statistic <= adfStarStat:
		return distuv.UnitNormal.CDF(polyval(adfSmallP, statistic))
	default:
		return distuv.UnitNormal.CDF(polyval(adfLargeP, statistic))
	}
}

func mackinnonCrit(nobs int) map[string]float64 {
	out := make(map[string]float64, len(adfCrit))
	for level, coef := range adfCrit {
		out[level] = polyval(coef, 1/float64(nobs))
	}
	return out
}

// KPSS regressions.
const (
	KPSSLevel = "c"
	KPSSTrend = "ct"
)

var (
	kpssPValues   = []float64{0.10, 0.05, 0.025, 0.01}
	kpssLevels    = []string{"10%", "5%", "2.5%", "1%"}
	kpssCritLevel = []float64{0.347, 0.463, 0.574, 0.739}
	kpssCritTrend = []float64{0.119, 0.146, 0.176, 0.216}
)

// KPSSTest is the Kwiatkowski-Phillips-Schmidt-Shin test. The null
// hypothesis is stationarity around a level ("c") or a trend ("ct").
// The bandwidth follows Hobijn et al. (1998). P-values are interpolated
// from the critical value table and clipped to [0.01, 0.10].
func KPSSTest(f *timeseries.Frame, regression string) (*StationarityResult, error) {
	x := clean(f)
	n := len(x)
	if n < 3 {
		return nil, fmt.Errorf("%w: %d observations for KPSS", ErrTooShort, n)
	}

	var resid []float64
	var crit []float64
	switch regression {
	case KPSSLevel, "":
		mean := stat.Mean(x, nil)
		resid = make([]float64, n)
		for i, v := range x {
			resid[i] = v - mean
		}
		crit = kpssCritLevel
	case KPSSTrend:
		design := mat.NewDense(n, 2, nil)
		for i := 0; i < n; i++ {
			design.Set(i, 0, 1)
			design.Set(i, 1, float64(i+1))
		}
		fit, err := ols(design, x)
		if err != nil {
			return nil, err
		}
		resid = make([]float64, n)
		for i, v := range x {
			resid[i] = v - fit.beta[0] - fit.beta[1]*float64(i+1)
		}
		crit = kpssCritTrend
	default:
		return nil, fmt.Errorf("unknown KPSS regression %q", regression)
	}

	lags := kpssAutolag(resid)
	if lags > n-1 {
		lags = n - 1
	}

	partial := make([]float64, n)
	floats.CumSum(partial, resid)
	eta := floats.Dot(partial, partial) / float64(n*n)
	statistic := eta / kpssSigma(resid, lags)

	p := interp(statistic, crit, kpssPValues)
	critValues := make(map[string]float64, len(crit))
	for i, level := range kpssLevels {
		critValues[level] = crit[i]
	}
	return newResult("KPSS", statistic, p, critValues, p >= Significance, lags, n), nil
}

// autocovSum is sum(resid[i:] * resid[:n-i]) / (n/2).
func autocovSum(resid []float64, i int) float64 {
	n := len(resid)
	return floats.Dot(resid[i:], resid[:n-i]) / (float64(n) / 2)
}

func kpssSigma(resid []float64, lags int) float64 {
	n := len(resid)
	s := floats.Dot(resid, resid)
	for i := 1; i <= lags; i++ {
		s += (1 - float64(i)/(float64(lags)+1)) * autocovSum(resid, i)
	}
	return s / float64(n)
}

func kpssAutolag(resid []float64) int {
	n := len(resid)
	covlags := int(math.Pow(float64(n), 2.0/9.0))
	s0 := floats.Dot(resid, resid) / float64(n)
	s1 := 0.0
	for i := 1; i <= covlags && i < n; i++ {
		p := autocovSum(resid, i)
		s0 += p
		s1 += float64(i) * p
	}
	sHat := s1 / s0
	gamma := 1.1447 * math.Pow(sHat*sHat, 1.0/3.0)
	return int(gamma * math.Pow(float64(n), 1.0/3.0))
}

// interp is linear interpolation over ascending xs, clamped at the ends.
func interp(x float64, xs, ys []float64) float64 {
	if x <= xs[0] {
		return ys[0]
	}
	last := len(xs) - 1
	if x >= xs[last] {
		return ys[last]
	}
	for i := 1; i <= last; i++ {
		if x <= xs[i] {
			w := (x - xs[i-1]) / (xs[i] - xs[i-1])
			return ys[i-1] + w*(ys[i]-ys[i-1])
		}
	}
	return ys[last]
}

func demeaned(x []float64) []float64 {
	mean := stat.Mean(x, nil)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

// ACF returns the sample autocorrelations for lags 0..nlags of the
// non-missing values. nlags is capped at n-1.
func ACF(f *timeseries.Frame, nlags int) ([]float64, error) {
	x := clean(f)
	if len(x) < 2 {
		return nil, fmt.Errorf("%w: %d observations for ACF", ErrTooShort, len(x))
	}
	return acf(x, nlags), nil
}

func acf(x []float64, nlags int) []float64 {
	n := len(x)
	if nlags > n-1 {
		nlags = n - 1
	}
	d := demeaned(x)
	c0 := floats.Dot(d, d)
	out := make([]float64, nlags+1)
	for k := 0; k <= nlags; k++ {
		out[k] = floats.Dot(d[k:], d[:n-k]) / c0
	}
	return out
}

// PACF returns the partial autocorrelations for lags 0..nlags from
// Yule-Walker equations with sample-size adjusted autocovariances. nlags
// is capped at n/2-1.
func PACF(f *timeseries.Frame, nlags int) ([]float64, error) {
	x := clean(f)
	n := len(x)
	if nlags > n/2-1 {
		nlags = n/2 - 1
	}
	if nlags < 1 {
		return nil, fmt.Errorf("%w: %d observations for PACF", ErrTooShort, n)
	}

	d := demeaned(x)
	r := make([]float64, nlags+1)
	for k := 0; k <= nlags; k++ {
		r[k] = floats.Dot(d[k:], d[:n-k]) / float64(n-k)
	}

	out := make([]float64, nlags+1)
	out[0] = 1
	for order := 1; order <= nlags; order++ {
		toeplitz := mat.NewDense(order, order, nil)
		for i := 0; i < order; i++ {
			for j := 0; j < order; j++ {
				lag := i - j
				if lag < 0 {
					lag = -lag
				}
				toeplitz.Set(i, j, r[lag])
			}
		}
		var rho mat.VecDense
		if err := rho.SolveVec(toeplitz, mat.NewVecDense(order, append([]float64(nil), r[1:order+1]...))); err != nil {
			return nil, fmt.Errorf("yule-walker order %d: %w", order, err)
		}
		out[order] = rho.AtVec(order - 1)
	}
	return out, nil
}

// LjungBoxResult is the Ljung-Box Q statistic up to one lag.
type LjungBoxResult struct {
	Lag       int     `json:"lag"`
	Statistic float64 `json:"lb_stat"`
	PValue    float64 `json:"lb_pvalue"`
}

// LjungBox tests for autocorrelation up to each lag 1..lags. The null
// hypothesis is no autocorrelation.
func LjungBox(f *timeseries.Frame, lags int) ([]LjungBoxResult, error) {
	x := clean(f)
	n := len(x)
	if lags < 1 || lags >= n {
		return nil, fmt.Errorf("%w: %d observations for Ljung-Box with %d lags", ErrTooShort, n, lags)
	}

	r := acf(x, lags)
	out := make([]LjungBoxResult, 0, lags)
	q := 0.0
	for k := 1; k <= lags; k++ {
		q += r[k] * r[k] / float64(n-k)
		statistic := float64(n*(n+2)) * q
		out = append(out, LjungBoxResult{
			Lag:       k,
			Statistic: statistic,
			PValue:    distuv.ChiSquared{K: float64(k)}.Survival(statistic),
		})
	}
	return out, nil
}

// DurbinWatson is sum((x[t]-x[t-1])^2) / sum(x[t]^2) over the non-missing
// values, for residual series. Values near 2 mean no serial correlation.
func DurbinWatson(f *timeseries.Frame) (float64, error) {
	x := clean(f)
	if len(x) < 2 {
		return 0, fmt.Errorf("%w: %d observations for Durbin-Watson", ErrTooShort, len(x))
	}
	diff := make([]float64, len(x)-1)
	for i := range diff {
		diff[i] = x[i+1] - x[i]
	}
	return floats.Dot(diff, diff) / floats.Dot(x, x), nil
}
