package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// lstmCell 单层单方向的参数，门顺序 i, f, g, o
type lstmCell struct {
	weightIH *mat.Dense // 4H × input
	weightHH *mat.Dense // 4H × H
	biasIH   []float64
	biasHH   []float64
}

// LSTM 多层 LSTM，可选双向；输入为 (长度, 特征) 矩阵
type LSTM struct {
	InputSize     int
	HiddenSize    int
	NumLayers     int
	Bidirectional bool

	cells [][]*lstmCell // [layer][direction]
}

// NewLSTM 创建 LSTM，所有参数从 U(-1/√H, 1/√H) 初始化
func NewLSTM(inputSize, hiddenSize, numLayers int, bidirectional bool, rng *rand.Rand) *LSTM {
	l := &LSTM{
		InputSize:     inputSize,
		HiddenSize:    hiddenSize,
		NumLayers:     numLayers,
		Bidirectional: bidirectional,
	}
	bound := 1 / math.Sqrt(float64(hiddenSize))
	gates := 4 * hiddenSize
	l.cells = make([][]*lstmCell, numLayers)
	for layer := 0; layer < numLayers; layer++ {
		in := l.layerInput(layer)
		for dir := 0; dir < l.directions(); dir++ {
			l.cells[layer] = append(l.cells[layer], &lstmCell{
				weightIH: mat.NewDense(gates, in, uniform(rng, gates*in, bound)),
				weightHH: mat.NewDense(gates, hiddenSize, uniform(rng, gates*hiddenSize, bound)),
				biasIH:   uniform(rng, gates, bound),
				biasHH:   uniform(rng, gates, bound),
			})
		}
	}
	return l
}

func (l *LSTM) directions() int {
	if l.Bidirectional {
		return 2
	}
	return 1
}

func (l *LSTM) layerInput(layer int) int {
	if layer == 0 {
		return l.InputSize
	}
	return l.HiddenSize * l.directions()
}

// OutputSize 每个时间步的输出宽度
func (l *LSTM) OutputSize() int {
	return l.HiddenSize * l.directions()
}

// Forward x: L × InputSize，返回 L × OutputSize；初始隐状态为零
func (l *LSTM) Forward(x *mat.Dense) (*mat.Dense, error) {
	steps, features := x.Dims()
	if steps == 0 {
		return nil, fmt.Errorf("%w: lstm input has no time steps", ErrShapeMismatch)
	}
	if features != l.InputSize {
		return nil, fmt.Errorf("%w: lstm expects %d features, got %d", ErrShapeMismatch, l.InputSize, features)
	}
	input := x
	for layer := 0; layer < l.NumLayers; layer++ {
		out := mat.NewDense(steps, l.OutputSize(), nil)
		for dir, cell := range l.cells[layer] {
			hidden := cell.run(input, l.HiddenSize, dir == 1)
			out.Slice(0, steps, dir*l.HiddenSize, (dir+1)*l.HiddenSize).(*mat.Dense).Copy(hidden)
		}
		input = out
	}
	return input, nil
}

// run 按时间顺序（reverse 时逆序）展开，返回每一步的隐状态 L × H
func (c *lstmCell) run(x *mat.Dense, hiddenSize int, reverse bool) *mat.Dense {
	steps, _ := x.Dims()
	gates := 4 * hiddenSize

	// 输入投影一次性算完
	proj := mat.NewDense(steps, gates, nil)
	proj.Mul(x, c.weightIH.T())

	out := mat.NewDense(steps, hiddenSize, nil)
	h := mat.NewVecDense(hiddenSize, nil)
	cellState := make([]float64, hiddenSize)
	recurrent := mat.NewVecDense(gates, nil)

	for i := 0; i < steps; i++ {
		t := i
		if reverse {
			t = steps - 1 - i
		}
		recurrent.MulVec(c.weightHH, h)
		z := proj.RawRowView(t)
		for j := 0; j < hiddenSize; j++ {
			ig := sigmoid(z[j] + c.biasIH[j] + c.biasHH[j] + recurrent.AtVec(j))
			fIdx := hiddenSize + j
			fg := sigmoid(z[fIdx] + c.biasIH[fIdx] + c.biasHH[fIdx] + recurrent.AtVec(fIdx))
			gIdx := 2*hiddenSize + j
			gg := math.Tanh(z[gIdx] + c.biasIH[gIdx] + c.biasHH[gIdx] + recurrent.AtVec(gIdx))
			oIdx := 3*hiddenSize + j
			og := sigmoid(z[oIdx] + c.biasIH[oIdx] + c.biasHH[oIdx] + recurrent.AtVec(oIdx))

			cellState[j] = fg*cellState[j] + ig*gg
			h.SetVec(j, og*math.Tanh(cellState[j]))
		}
		out.SetRow(t, h.RawVector().Data)
	}
	return out
}

func (l *LSTM) paramSuffix(layer, dir int) string {
	suffix := fmt.Sprintf("_l%d", layer)
	if dir == 1 {
		suffix += "_reverse"
	}
	return suffix
}

// StateDict 导出 weight_ih_l{n}[_reverse] 等参数
func (l *LSTM) StateDict(prefix string, dst StateDict) {
	gates := 4 * l.HiddenSize
	for layer, dirs := range l.cells {
		in := l.layerInput(layer)
		for dir, cell := range dirs {
			s := l.paramSuffix(layer, dir)
			dst.put(prefix+"weight_ih"+s, cell.weightIH.RawMatrix().Data, gates, in)
			dst.put(prefix+"weight_hh"+s, cell.weightHH.RawMatrix().Data, gates, l.HiddenSize)
			dst.put(prefix+"bias_ih"+s, cell.biasIH, gates)
			dst.put(prefix+"bias_hh"+s, cell.biasHH, gates)
		}
	}
}

// LoadStateDict 加载全部层与方向的参数
func (l *LSTM) LoadStateDict(prefix string, src StateDict) error {
	gates := 4 * l.HiddenSize
	for layer, dirs := range l.cells {
		in := l.layerInput(layer)
		for dir := range dirs {
			s := l.paramSuffix(layer, dir)
			wih, err := src.take(prefix+"weight_ih"+s, gates, in)
			if err != nil {
				return err
			}
			whh, err := src.take(prefix+"weight_hh"+s, gates, l.HiddenSize)
			if err != nil {
				return err
			}
			bih, err := src.take(prefix+"bias_ih"+s, gates)
			if err != nil {
				return err
			}
			bhh, err := src.take(prefix+"bias_hh"+s, gates)
			if err != nil {
				return err
			}
			dirs[dir] = &lstmCell{
				weightIH: mat.NewDense(gates, in, wih),
				weightHH: mat.NewDense(gates, l.HiddenSize, whh),
				biasIH:   bih,
				biasHH:   bhh,
			}
		}
	}
	return nil
}
