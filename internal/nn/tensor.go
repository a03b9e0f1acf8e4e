// Package nn 提供推理所需的一维卷积、循环与注意力层
// 参数命名与 PyTorch state_dict 一致，便于直接加载训练导出的权重
package nn

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ErrShapeMismatch 输入或权重形状与层定义不一致
var ErrShapeMismatch = errors.New("shape mismatch")

// Tensor 行主序存储的多维数组
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor 创建张量，数据长度须等于形状乘积
func NewTensor(shape []int, data []float64) (Tensor, error) {
	if n := numel(shape); n != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShapeMismatch, shape, n, len(data))
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Numel 元素个数
func (t Tensor) Numel() int { return numel(t.Shape) }

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StateDict 参数名到张量的映射
type StateDict map[string]Tensor

// Keys 按字典序返回参数名
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// take 取出指定形状的参数，形状不符时返回 ErrShapeMismatch
func (sd StateDict) take(name string, shape ...int) ([]float64, error) {
	t, ok := sd[name]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", name)
	}
	if !sameShape(t.Shape, shape) || len(t.Data) != numel(shape) {
		return nil, fmt.Errorf("%w: parameter %q has shape %v, expected %v", ErrShapeMismatch, name, t.Shape, shape)
	}
	return append([]float64(nil), t.Data...), nil
}

func (sd StateDict) put(name string, data []float64, shape ...int) {
	sd[name] = Tensor{Shape: append([]int(nil), shape...), Data: append([]float64(nil), data...)}
}

// Module 可导出、可加载参数的层
type Module interface {
	StateDict(prefix string, dst StateDict)
	LoadStateDict(prefix string, src StateDict) error
}

// uniform 生成 [-bound, bound) 均匀分布的参数
func uniform(rng *rand.Rand, n int, bound float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * bound
	}
	return out
}
