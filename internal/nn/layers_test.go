package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestConv1d_Forward(t *testing.T) {
	conv := NewConv1d(1, 1, 3, 1, 1, rand.New(rand.NewSource(1)))
	require.NoError(t, conv.LoadStateDict("", StateDict{
		"weight": {Shape: []int{1, 1, 3}, Data: []float64{1, 1, 1}},
		"bias":   {Shape: []int{1}, Data: []float64{0}},
	}))

	out, err := conv.Forward(mat.NewDense(1, 3, []float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6, 5}, out.RawRowView(0))
}

func TestConv1d_DilatedPaddingIsCausal(t *testing.T) {
	// 只保留最早的一个抽头：输出 t 只看输入 t-4
	conv := NewConv1d(1, 1, 3, 2, 4, rand.New(rand.NewSource(1)))
	require.NoError(t, conv.LoadStateDict("", StateDict{
		"weight": {Shape: []int{1, 1, 3}, Data: []float64{1, 0, 0}},
		"bias":   {Shape: []int{1}, Data: []float64{0}},
	}))

	x := mat.NewDense(1, 5, []float64{1, 2, 3, 4, 5})
	out, err := conv.Forward(x)
	require.NoError(t, err)

	_, length := out.Dims()
	assert.Equal(t, 9, length)
	assert.Equal(t, []float64{0, 0, 0, 0, 1, 2, 3, 4, 5}, out.RawRowView(0))
}

func TestConv1d_ChannelMismatch(t *testing.T) {
	conv := NewConv1d(3, 8, 3, 1, 2, rand.New(rand.NewSource(1)))

	_, err := conv.Forward(mat.NewDense(2, 10, nil))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestConvTranspose1d_Forward(t *testing.T) {
	conv := NewConvTranspose1d(1, 1, 3, 1, rand.New(rand.NewSource(1)))
	require.NoError(t, conv.LoadStateDict("", StateDict{
		"weight": {Shape: []int{1, 1, 3}, Data: []float64{1, 2, 3}},
		"bias":   {Shape: []int{1}, Data: []float64{0.5}},
	}))

	out, err := conv.Forward(mat.NewDense(1, 4, []float64{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 3.5, 0.5, 0.5}, out.RawRowView(0))
}

func TestConvTranspose1d_WeightLayout(t *testing.T) {
	// weight [in=2, out=1, k=1]：输出为两个输入通道的加权和
	conv := NewConvTranspose1d(2, 1, 1, 0, rand.New(rand.NewSource(1)))
	require.NoError(t, conv.LoadStateDict("", StateDict{
		"weight": {Shape: []int{2, 1, 1}, Data: []float64{2, 10}},
		"bias":   {Shape: []int{1}, Data: []float64{0}},
	}))

	out, err := conv.Forward(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []float64{32, 44}, out.RawRowView(0))
}

func TestLinear_Forward(t *testing.T) {
	linear := NewLinear(2, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, linear.LoadStateDict("fc.", StateDict{
		"fc.weight": {Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}},
		"fc.bias":   {Shape: []int{2}, Data: []float64{1, -1}},
	}))

	out, err := linear.ForwardVec([]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 6}, out)

	_, err = linear.ForwardVec([]float64{1, 1, 1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestLoadStateDict_Errors(t *testing.T) {
	linear := NewLinear(2, 2, rand.New(rand.NewSource(1)))

	err := linear.LoadStateDict("", StateDict{
		"weight": {Shape: []int{2, 3}, Data: make([]float64, 6)},
		"bias":   {Shape: []int{2}, Data: make([]float64, 2)},
	})
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	err = linear.LoadStateDict("", StateDict{
		"weight": {Shape: []int{2, 2}, Data: make([]float64, 4)},
	})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrShapeMismatch))
}

// lstmStep 单隐单元、零权重时的参考实现
func lstmStep(c, gBias float64) (float64, float64) {
	c = 0.5*c + 0.5*math.Tanh(gBias)
	return c, 0.5 * math.Tanh(c)
}

func zeroLSTMState(l *LSTM, gBias float64) StateDict {
	sd := StateDict{}
	l.StateDict("", sd)
	for name, tensor := range sd {
		for i := range tensor.Data {
			tensor.Data[i] = 0
		}
		if len(name) > 7 && name[:7] == "bias_ih" {
			// g 门位于第三段
			tensor.Data[2*l.HiddenSize] = gBias
		}
	}
	return sd
}

func TestLSTM_ForwardMatchesReference(t *testing.T) {
	l := NewLSTM(1, 1, 1, false, rand.New(rand.NewSource(1)))
	require.NoError(t, l.LoadStateDict("", zeroLSTMState(l, 1)))

	out, err := l.Forward(mat.NewDense(3, 1, []float64{5, -5, 5}))
	require.NoError(t, err)

	c := 0.0
	var h float64
	for step := 0; step < 3; step++ {
		c, h = lstmStep(c, 1)
		assert.InDelta(t, h, out.At(step, 0), 1e-12)
	}
}

func TestLSTM_BidirectionalReverseOrder(t *testing.T) {
	l := NewLSTM(1, 1, 1, true, rand.New(rand.NewSource(1)))
	require.NoError(t, l.LoadStateDict("", zeroLSTMState(l, 1)))

	out, err := l.Forward(mat.NewDense(4, 1, nil))
	require.NoError(t, err)

	rows, cols := out.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 2, cols)
	for step := 0; step < 4; step++ {
		// 反向在最后一步只走了一步
		assert.InDelta(t, out.At(step, 0), out.At(3-step, 1), 1e-12)
	}
}

func TestLSTM_StackedOutputWidth(t *testing.T) {
	l := NewLSTM(8, 5, 2, true, rand.New(rand.NewSource(2)))
	out, err := l.Forward(mat.NewDense(6, 8, uniform(rand.New(rand.NewSource(3)), 48, 1)))
	require.NoError(t, err)

	rows, cols := out.Dims()
	assert.Equal(t, 6, rows)
	assert.Equal(t, 10, cols)

	sd := StateDict{}
	l.StateDict("bilstm.", sd)
	assert.Contains(t, sd, "bilstm.weight_ih_l1_reverse")
	assert.Equal(t, []int{20, 10}, sd["bilstm.weight_ih_l1"].Shape)

	_, err = l.Forward(mat.NewDense(6, 7, nil))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestMultiheadAttention_SingleStepIsValueProjection(t *testing.T) {
	attn, err := NewMultiheadAttention(4, 2, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	x := []float64{0.5, -1, 2, 0.25}
	out, err := attn.Forward(mat.NewDense(1, 4, x))
	require.NoError(t, err)

	sd := StateDict{}
	attn.StateDict("", sd)
	w := mat.NewDense(12, 4, sd["in_proj_weight"].Data)
	value := make([]float64, 4)
	for i := range value {
		value[i] = mat.Dot(w.RowView(8+i), mat.NewVecDense(4, x)) + sd["in_proj_bias"].Data[8+i]
	}
	want, err := attn.outProj.ForwardVec(value)
	require.NoError(t, err)

	for i := range want {
		assert.InDelta(t, want[i], out.At(0, i), 1e-12)
	}
}

func TestMultiheadAttention_IdenticalRows(t *testing.T) {
	attn, err := NewMultiheadAttention(8, 4, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	row := uniform(rand.New(rand.NewSource(6)), 8, 1)
	x := mat.NewDense(3, 8, nil)
	for i := 0; i < 3; i++ {
		x.SetRow(i, row)
	}
	out, err := attn.Forward(x)
	require.NoError(t, err)
	for j := 0; j < 8; j++ {
		assert.InDelta(t, out.At(0, j), out.At(2, j), 1e-12)
	}
}

func TestMultiheadAttention_InvalidHeads(t *testing.T) {
	_, err := NewMultiheadAttention(6, 4, rand.New(rand.NewSource(1)))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1000, 1000, 998})
	sum := 0.0
	for _, p := range probs {
		assert.False(t, math.IsNaN(p))
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, probs[0], probs[1], 1e-15)
	assert.Equal(t, 0, Argmax(probs))
	assert.Equal(t, -1, Argmax(nil))
}

func TestReLU(t *testing.T) {
	m := mat.NewDense(1, 3, []float64{-1, 0, 2})
	ReLU(m)
	assert.Equal(t, []float64{0, 0, 2}, m.RawRowView(0))
}

func TestInit_DeterministicFromSeed(t *testing.T) {
	a, b := StateDict{}, StateDict{}
	NewLSTM(4, 3, 2, true, rand.New(rand.NewSource(42))).StateDict("", a)
	NewLSTM(4, 3, 2, true, rand.New(rand.NewSource(42))).StateDict("", b)
	assert.Equal(t, a, b)

	bound := 1 / math.Sqrt(3)
	for _, tensor := range a {
		for _, v := range tensor.Data {
			assert.LessOrEqual(t, math.Abs(v), bound)
		}
	}
}
