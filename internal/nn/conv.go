package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Conv1d 一维卷积（stride 1），输入为 (通道, 长度) 矩阵
// 输出长度 L + 2*Padding - Dilation*(KernelSize-1)
type Conv1d struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Dilation    int
	Padding     int

	weight *mat.Dense // OutChannels × (InChannels*KernelSize)
	bias   []float64
}

// NewConv1d 创建卷积层，参数按 PyTorch 默认方式从 rng 均匀初始化
func NewConv1d(in, out, kernel, dilation, padding int, rng *rand.Rand) *Conv1d {
	bound := 1 / math.Sqrt(float64(in*kernel))
	return &Conv1d{
		InChannels:  in,
		OutChannels: out,
		KernelSize:  kernel,
		Dilation:    dilation,
		Padding:     padding,
		weight:      mat.NewDense(out, in*kernel, uniform(rng, out*in*kernel, bound)),
		bias:        uniform(rng, out, bound),
	}
}

// OutputLength 给定输入长度时的输出长度
func (c *Conv1d) OutputLength(length int) int {
	return length + 2*c.Padding - c.Dilation*(c.KernelSize-1)
}

// Forward x: InChannels × L，返回 OutChannels × OutputLength(L)
func (c *Conv1d) Forward(x *mat.Dense) (*mat.Dense, error) {
	channels, length := x.Dims()
	if channels != c.InChannels {
		return nil, fmt.Errorf("%w: conv1d expects %d input channels, got %d", ErrShapeMismatch, c.InChannels, channels)
	}
	outLen := c.OutputLength(length)
	if outLen <= 0 {
		return nil, fmt.Errorf("%w: conv1d input length %d too short", ErrShapeMismatch, length)
	}

	// im2col: 每列是一个输出位置的感受野
	cols := mat.NewDense(c.InChannels*c.KernelSize, outLen, nil)
	for ic := 0; ic < c.InChannels; ic++ {
		src := x.RawRowView(ic)
		for k := 0; k < c.KernelSize; k++ {
			dst := cols.RawRowView(ic*c.KernelSize + k)
			offset := k*c.Dilation - c.Padding
			for t := 0; t < outLen; t++ {
				if s := t + offset; s >= 0 && s < length {
					dst[t] = src[s]
				}
			}
		}
	}

	out := mat.NewDense(c.OutChannels, outLen, nil)
	out.Mul(c.weight, cols)
	addRowBias(out, c.bias)
	return out, nil
}

// StateDict 导出 weight [out, in, k] 与 bias [out]
func (c *Conv1d) StateDict(prefix string, dst StateDict) {
	dst.put(prefix+"weight", c.weight.RawMatrix().Data, c.OutChannels, c.InChannels, c.KernelSize)
	dst.put(prefix+"bias", c.bias, c.OutChannels)
}

// LoadStateDict 加载 weight 与 bias
func (c *Conv1d) LoadStateDict(prefix string, src StateDict) error {
	w, err := src.take(prefix+"weight", c.OutChannels, c.InChannels, c.KernelSize)
	if err != nil {
		return err
	}
	b, err := src.take(prefix+"bias", c.OutChannels)
	if err != nil {
		return err
	}
	c.weight = mat.NewDense(c.OutChannels, c.InChannels*c.KernelSize, w)
	c.bias = b
	return nil
}

// ConvTranspose1d 一维转置卷积（stride 1）
// 输出长度 L - 2*Padding + Dilation*(KernelSize-1)
type ConvTranspose1d struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Dilation    int
	Padding     int

	weight []float64    // PyTorch 布局 [in, out, k]
	taps   []*mat.Dense // 每个卷积核位置一个 OutChannels × InChannels 矩阵
	bias   []float64
}

// NewConvTranspose1d 创建转置卷积层
func NewConvTranspose1d(in, out, kernel, padding int, rng *rand.Rand) *ConvTranspose1d {
	// PyTorch 按 weight 第二维计算 fan_in
	bound := 1 / math.Sqrt(float64(out*kernel))
	c := &ConvTranspose1d{
		InChannels:  in,
		OutChannels: out,
		KernelSize:  kernel,
		Dilation:    1,
		Padding:     padding,
		weight:      uniform(rng, in*out*kernel, bound),
		bias:        uniform(rng, out, bound),
	}
	c.buildTaps()
	return c
}

func (c *ConvTranspose1d) buildTaps() {
	c.taps = make([]*mat.Dense, c.KernelSize)
	for k := range c.taps {
		tap := mat.NewDense(c.OutChannels, c.InChannels, nil)
		for ic := 0; ic < c.InChannels; ic++ {
			for oc := 0; oc < c.OutChannels; oc++ {
				tap.Set(oc, ic, c.weight[(ic*c.OutChannels+oc)*c.KernelSize+k])
			}
		}
		c.taps[k] = tap
	}
}

// OutputLength 给定输入长度时的输出长度
func (c *ConvTranspose1d) OutputLength(length int) int {
	return length - 2*c.Padding + c.Dilation*(c.KernelSize-1)
}

// Forward x: InChannels × L，返回 OutChannels × OutputLength(L)
func (c *ConvTranspose1d) Forward(x *mat.Dense) (*mat.Dense, error) {
	channels, length := x.Dims()
	if channels != c.InChannels {
		return nil, fmt.Errorf("%w: conv_transpose1d expects %d input channels, got %d", ErrShapeMismatch, c.InChannels, channels)
	}
	outLen := c.OutputLength(length)
	if outLen <= 0 {
		return nil, fmt.Errorf("%w: conv_transpose1d input length %d too short", ErrShapeMismatch, length)
	}

	out := mat.NewDense(c.OutChannels, outLen, nil)
	contrib := mat.NewDense(c.OutChannels, length, nil)
	for k, tap := range c.taps {
		contrib.Mul(tap, x)
		// 输入位置 s 贡献到输出位置 s + k*d - p
		shift := k*c.Dilation - c.Padding
		for oc := 0; oc < c.OutChannels; oc++ {
			src := contrib.RawRowView(oc)
			dst := out.RawRowView(oc)
			for s, v := range src {
				if t := s + shift; t >= 0 && t < outLen {
					dst[t] += v
				}
			}
		}
	}
	addRowBias(out, c.bias)
	return out, nil
}

// StateDict 导出 weight [in, out, k] 与 bias [out]
func (c *ConvTranspose1d) StateDict(prefix string, dst StateDict) {
	dst.put(prefix+"weight", c.weight, c.InChannels, c.OutChannels, c.KernelSize)
	dst.put(prefix+"bias", c.bias, c.OutChannels)
}

// LoadStateDict 加载 weight 与 bias
func (c *ConvTranspose1d) LoadStateDict(prefix string, src StateDict) error {
	w, err := src.take(prefix+"weight", c.InChannels, c.OutChannels, c.KernelSize)
	if err != nil {
		return err
	}
	b, err := src.take(prefix+"bias", c.OutChannels)
	if err != nil {
		return err
	}
	c.weight = w
	c.bias = b
	c.buildTaps()
	return nil
}

func addRowBias(m *mat.Dense, bias []float64) {
	for i, b := range bias {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += b
		}
	}
}
