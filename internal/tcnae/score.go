package tcnae

import (
	"fmt"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/nn"

	"gonum.org/v1/gonum/mat"
)

// Score 重构误差
type Score struct {
	MSE        float64   `json:"mse"`
	PerChannel []float64 `json:"per_channel"`
}

// ReconstructionError 计算窗口与重构之间的均方误差（整体与逐通道）
func ReconstructionError(window, recon mat.Matrix) (Score, error) {
	wr, wc := window.Dims()
	rr, rc := recon.Dims()
	if wr != rr || wc != rc {
		return Score{}, fmt.Errorf("%w: window (%d, %d) vs reconstruction (%d, %d)", nn.ErrShapeMismatch, wr, wc, rr, rc)
	}

	var diff mat.Dense
	diff.Sub(window, recon)

	score := Score{PerChannel: make([]float64, wr)}
	total := 0.0
	for i := 0; i < wr; i++ {
		row := mat.Row(nil, i, &diff)
		sum := 0.0
		for _, d := range row {
			sum += d * d
		}
		score.PerChannel[i] = sum / float64(wc)
		total += sum
	}
	score.MSE = total / float64(wr*wc)
	return score, nil
}

// Score 前向并计算重构误差
func (m *Model) Score(window *mat.Dense) (Score, error) {
	recon, err := m.Forward(window)
	if err != nil {
		return Score{}, err
	}
	return ReconstructionError(window, recon)
}
