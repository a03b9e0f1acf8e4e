package drift

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MixtureConfig 高斯混合模型拟合参数（默认值与 scikit-learn GaussianMixture 一致）
type MixtureConfig struct {
	Components int     // 分量数
	MaxIter    int     // EM 最大迭代次数
	Tol        float64 // 下界收敛阈值
	RegCovar   float64 // 协方差对角正则项
	Seed       int64   // 初始化随机种子
}

// DefaultMixtureConfig 默认拟合参数
func DefaultMixtureConfig() MixtureConfig {
	return MixtureConfig{
		Components: 2,
		MaxIter:    100,
		Tol:        1e-3,
		RegCovar:   1e-6,
		Seed:       0,
	}
}

// ErrNotPositiveDefinite 协方差矩阵不正定
var ErrNotPositiveDefinite = errors.New("covariance matrix is not positive definite")

const kmeansIterations = 10

// Mixture 已拟合的全协方差高斯混合模型（拟合后只读）
type Mixture struct {
	dim       int
	weights   []float64
	means     []*mat.VecDense
	covs      []*mat.SymDense
	chols     []*mat.Cholesky
	converged bool
	nIter     int
}

// Dim 特征维度
func (m *Mixture) Dim() int { return m.dim }

// Components 分量数
func (m *Mixture) Components() int { return len(m.weights) }

// Weights 分量权重（副本）
func (m *Mixture) Weights() []float64 {
	return append([]float64(nil), m.weights...)
}

// Converged 是否在 MaxIter 内收敛
func (m *Mixture) Converged() bool { return m.converged }

// LogLikelihood 样本在混合模型下的对数似然
func (m *Mixture) LogLikelihood(x []float64) float64 {
	logProbs := make([]float64, len(m.weights))
	m.weightedLogProb(mat.NewVecDense(len(x), append([]float64(nil), x...)), logProbs)
	return floats.LogSumExp(logProbs)
}

// weightedLogProb 计算 log(w_k) + log N(x | mu_k, Sigma_k)
func (m *Mixture) weightedLogProb(x *mat.VecDense, dst []float64) {
	diff := mat.NewVecDense(m.dim, nil)
	solved := mat.NewVecDense(m.dim, nil)
	for k := range m.weights {
		diff.SubVec(x, m.means[k])
		if err := m.chols[k].SolveVecTo(solved, diff); err != nil {
			dst[k] = math.Inf(-1)
			continue
		}
		mahalanobis := mat.Dot(diff, solved)
		logDet := m.chols[k].LogDet()
		dst[k] = math.Log(m.weights[k]) -
			0.5*(float64(m.dim)*math.Log(2*math.Pi)+logDet+mahalanobis)
	}
}

// FitMixture 使用 EM 算法拟合全协方差高斯混合模型（k-means++ 初始化）
func FitMixture(data [][]float64, cfg MixtureConfig) (*Mixture, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("no samples")
	}
	if cfg.Components < 1 {
		return nil, fmt.Errorf("invalid component count: %d", cfg.Components)
	}
	if n < cfg.Components {
		return nil, fmt.Errorf("%d samples cannot fit %d components", n, cfg.Components)
	}
	dim := len(data[0])
	if dim == 0 {
		return nil, fmt.Errorf("empty feature vector")
	}

	X := mat.NewDense(n, dim, nil)
	for i, row := range data {
		if len(row) != dim {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(row), dim)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("sample %d feature %d is not finite", i, j)
			}
		}
		X.SetRow(i, row)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	resp := initResponsibilities(X, cfg.Components, rng)

	m := &Mixture{dim: dim}
	if err := m.maximize(X, resp, cfg.RegCovar); err != nil {
		return nil, err
	}

	lowerBound := math.Inf(-1)
	for iter := 1; iter <= cfg.MaxIter; iter++ {
		prev := lowerBound
		lowerBound = m.expect(X, resp)
		if err := m.maximize(X, resp, cfg.RegCovar); err != nil {
			return nil, err
		}
		m.nIter = iter
		if math.Abs(lowerBound-prev) < cfg.Tol {
			m.converged = true
			break
		}
	}

	return m, nil
}

// expect E 步：更新 resp，返回平均对数似然
func (m *Mixture) expect(X *mat.Dense, resp *mat.Dense) float64 {
	n, _ := X.Dims()
	k := len(m.weights)
	logProbs := make([]float64, k)
	var total float64
	for i := 0; i < n; i++ {
		m.weightedLogProb(mat.VecDenseCopyOf(X.RowView(i)), logProbs)
		norm := floats.LogSumExp(logProbs)
		total += norm
		for j := 0; j < k; j++ {
			resp.Set(i, j, math.Exp(logProbs[j]-norm))
		}
	}
	return total / float64(n)
}

// maximize M 步：由 resp 估计权重、均值与协方差
func (m *Mixture) maximize(X *mat.Dense, resp *mat.Dense, reg float64) error {
	n, dim := X.Dims()
	_, k := resp.Dims()

	// nk = sum_i resp_ik（加 10*eps 防止空分量）
	nk := make([]float64, k)
	for j := 0; j < k; j++ {
		nk[j] = floats.Sum(mat.Col(nil, j, resp)) + 10*epsilon
	}

	// means = resp^T X / nk
	var sums mat.Dense
	sums.Mul(resp.T(), X)

	m.weights = make([]float64, k)
	m.means = make([]*mat.VecDense, k)
	m.covs = make([]*mat.SymDense, k)
	m.chols = make([]*mat.Cholesky, k)

	diff := mat.NewVecDense(dim, nil)
	for j := 0; j < k; j++ {
		m.weights[j] = nk[j] / float64(n)

		mean := mat.VecDenseCopyOf(sums.RowView(j))
		mean.ScaleVec(1/nk[j], mean)
		m.means[j] = mean

		cov := mat.NewSymDense(dim, nil)
		for i := 0; i < n; i++ {
			r := resp.At(i, j)
			if r == 0 {
				continue
			}
			diff.SubVec(X.RowView(i), mean)
			cov.SymRankOne(cov, r, diff)
		}
		cov.ScaleSym(1/nk[j], cov)
		for d := 0; d < dim; d++ {
			cov.SetSym(d, d, cov.At(d, d)+reg)
		}
		m.covs[j] = cov

		var chol mat.Cholesky
		if ok := chol.Factorize(cov); !ok {
			return fmt.Errorf("component %d: %w", j, ErrNotPositiveDefinite)
		}
		m.chols[j] = &chol
	}

	return nil
}

// initResponsibilities k-means++ 选取中心后做若干轮 Lloyd 迭代，返回 one-hot 责任矩阵
func initResponsibilities(X *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, dim := X.Dims()
	centers := make([][]float64, 0, k)
	centers = append(centers, mat.Row(nil, rng.Intn(n), X))

	dist := make([]float64, n)
	for len(centers) < k {
		var total float64
		for i := 0; i < n; i++ {
			dist[i] = nearestSquaredDistance(X.RawRowView(i), centers)
			total += dist[i]
		}
		next := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, d := range dist {
				acc += d
				if acc >= target {
					next = i
					break
				}
			}
		}
		centers = append(centers, mat.Row(nil, next, X))
	}

	labels := make([]int, n)
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := iter == 0
		for i := 0; i < n; i++ {
			if label := nearestCenter(X.RawRowView(i), centers); label != labels[i] {
				labels[i] = label
				changed = true
			}
		}
		if !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for j := range sums {
			sums[j] = make([]float64, dim)
		}
		for i, label := range labels {
			counts[label]++
			floats.Add(sums[label], X.RawRowView(i))
		}
		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[j]), sums[j])
			centers[j] = sums[j]
		}
	}

	resp := mat.NewDense(n, k, nil)
	for i, label := range labels {
		resp.Set(i, label, 1)
	}
	return resp
}

func nearestCenter(x []float64, centers [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for j, c := range centers {
		if d := floats.Distance(x, c, 2); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

func nearestSquaredDistance(x []float64, centers [][]float64) float64 {
	best := math.Inf(1)
	for _, c := range centers {
		d := floats.Distance(x, c, 2)
		if d*d < best {
			best = d * d
		}
	}
	return best
}

// epsilon float64 机器精度
var epsilon = math.Nextafter(1, 2) - 1
