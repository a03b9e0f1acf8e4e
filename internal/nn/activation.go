package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ReLU 原地将负值置零
func ReLU(m *mat.Dense) *mat.Dense {
	m.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}, m)
	return m
}

// Softmax 返回数值稳定的 softmax 概率
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	lse := floats.LogSumExp(logits)
	for i, v := range logits {
		out[i] = math.Exp(v - lse)
	}
	return out
}

// softmaxRows 对矩阵每一行做 softmax
func softmaxRows(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		copy(row, Softmax(row))
	}
}

// Argmax 最大值下标，并列时取第一个
func Argmax(values []float64) int {
	if len(values) == 0 {
		return -1
	}
	return floats.MaxIdx(values)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
