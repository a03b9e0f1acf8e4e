package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear 全连接层 y = x·Wᵀ + b，x 的每一行是一个样本
type Linear struct {
	In  int
	Out int

	weight *mat.Dense // Out × In
	bias   []float64
}

// NewLinear 创建全连接层
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	return &Linear{
		In:     in,
		Out:    out,
		weight: mat.NewDense(out, in, uniform(rng, out*in, bound)),
		bias:   uniform(rng, out, bound),
	}
}

// Forward x: N × In，返回 N × Out
func (l *Linear) Forward(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != l.In {
		return nil, fmt.Errorf("%w: linear expects %d features, got %d", ErrShapeMismatch, l.In, cols)
	}
	out := mat.NewDense(rows, l.Out, nil)
	out.Mul(x, l.weight.T())
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j, b := range l.bias {
			row[j] += b
		}
	}
	return out, nil
}

// ForwardVec 单个向量的前向计算
func (l *Linear) ForwardVec(x []float64) ([]float64, error) {
	if len(x) != l.In {
		return nil, fmt.Errorf("%w: linear expects %d features, got %d", ErrShapeMismatch, l.In, len(x))
	}
	out, err := l.Forward(mat.NewDense(1, l.In, x))
	if err != nil {
		return nil, err
	}
	return out.RawRowView(0), nil
}

// StateDict 导出 weight [out, in] 与 bias [out]
func (l *Linear) StateDict(prefix string, dst StateDict) {
	dst.put(prefix+"weight", l.weight.RawMatrix().Data, l.Out, l.In)
	dst.put(prefix+"bias", l.bias, l.Out)
}

// LoadStateDict 加载 weight 与 bias
func (l *Linear) LoadStateDict(prefix string, src StateDict) error {
	w, err := src.take(prefix+"weight", l.Out, l.In)
	if err != nil {
		return err
	}
	b, err := src.take(prefix+"bias", l.Out)
	if err != nil {
		return err
	}
	l.weight = mat.NewDense(l.Out, l.In, w)
	l.bias = b
	return nil
}
