package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MultiheadAttention 多头缩放点积注意力，输入为 (长度, EmbedDim) 矩阵
type MultiheadAttention struct {
	EmbedDim int
	NumHeads int

	inProjWeight *mat.Dense // 3E × E，依次为 q、k、v
	inProjBias   []float64
	outProj      *Linear
}

// NewMultiheadAttention 创建注意力层，EmbedDim 必须能被 NumHeads 整除
func NewMultiheadAttention(embedDim, numHeads int, rng *rand.Rand) (*MultiheadAttention, error) {
	if numHeads <= 0 || embedDim%numHeads != 0 {
		return nil, fmt.Errorf("%w: embed dim %d is not divisible by %d heads", ErrShapeMismatch, embedDim, numHeads)
	}
	outProj := NewLinear(embedDim, embedDim, rng)
	for i := range outProj.bias {
		outProj.bias[i] = 0
	}
	// in_proj 使用 xavier uniform，偏置为零
	bound := math.Sqrt(6 / float64(embedDim+3*embedDim))
	return &MultiheadAttention{
		EmbedDim:     embedDim,
		NumHeads:     numHeads,
		inProjWeight: mat.NewDense(3*embedDim, embedDim, uniform(rng, 3*embedDim*embedDim, bound)),
		inProjBias:   make([]float64, 3*embedDim),
		outProj:      outProj,
	}, nil
}

// Forward 自注意力 query = key = value = x，返回 L × EmbedDim
func (a *MultiheadAttention) Forward(x *mat.Dense) (*mat.Dense, error) {
	steps, features := x.Dims()
	if steps == 0 {
		return nil, fmt.Errorf("%w: attention input has no time steps", ErrShapeMismatch)
	}
	if features != a.EmbedDim {
		return nil, fmt.Errorf("%w: attention expects embed dim %d, got %d", ErrShapeMismatch, a.EmbedDim, features)
	}

	qkv := mat.NewDense(steps, 3*a.EmbedDim, nil)
	qkv.Mul(x, a.inProjWeight.T())
	for i := 0; i < steps; i++ {
		row := qkv.RawRowView(i)
		for j, b := range a.inProjBias {
			row[j] += b
		}
	}

	headDim := a.EmbedDim / a.NumHeads
	scale := 1 / math.Sqrt(float64(headDim))
	concat := mat.NewDense(steps, a.EmbedDim, nil)
	scores := mat.NewDense(steps, steps, nil)
	for h := 0; h < a.NumHeads; h++ {
		off := h * headDim
		q := qkv.Slice(0, steps, off, off+headDim)
		k := qkv.Slice(0, steps, a.EmbedDim+off, a.EmbedDim+off+headDim)
		v := qkv.Slice(0, steps, 2*a.EmbedDim+off, 2*a.EmbedDim+off+headDim)

		scores.Mul(q, k.T())
		scores.Scale(scale, scores)
		softmaxRows(scores)

		concat.Slice(0, steps, off, off+headDim).(*mat.Dense).Mul(scores, v)
	}
	return a.outProj.Forward(concat)
}

// StateDict 导出 in_proj_weight、in_proj_bias 与 out_proj.*
func (a *MultiheadAttention) StateDict(prefix string, dst StateDict) {
	dst.put(prefix+"in_proj_weight", a.inProjWeight.RawMatrix().Data, 3*a.EmbedDim, a.EmbedDim)
	dst.put(prefix+"in_proj_bias", a.inProjBias, 3*a.EmbedDim)
	a.outProj.StateDict(prefix+"out_proj.", dst)
}

// LoadStateDict 加载注意力参数
func (a *MultiheadAttention) LoadStateDict(prefix string, src StateDict) error {
	w, err := src.take(prefix+"in_proj_weight", 3*a.EmbedDim, a.EmbedDim)
	if err != nil {
		return err
	}
	b, err := src.take(prefix+"in_proj_bias", 3*a.EmbedDim)
	if err != nil {
		return err
	}
	if err := a.outProj.LoadStateDict(prefix+"out_proj.", src); err != nil {
		return err
	}
	a.inProjWeight = mat.NewDense(3*a.EmbedDim, a.EmbedDim, w)
	a.inProjBias = b
	return nil
}
