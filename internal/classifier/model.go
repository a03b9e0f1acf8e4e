// Package classifier 实现 CNN → BiLSTM → 多头自注意力的事件分类器
package classifier

import (
	"fmt"
	"math/rand"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/nn"

	"gonum.org/v1/gonum/mat"
)

const (
	// AttentionHeads 注意力头数
	AttentionHeads = 4
	// LSTMLayers 双向 LSTM 层数
	LSTMLayers = 2

	spatialChannels = 128
	headHidden      = 64
)

// Config 模型结构参数
type Config struct {
	InputDim   int   // 每个时间步的特征数 D
	HiddenDim  int   // LSTM 隐层 H，2H 须能被 AttentionHeads 整除
	NumClasses int   // 输出类别数
	Seed       int64 // 参数初始化种子
}

// Model 多模态事件分类器，构造后只读
type Model struct {
	config Config

	cnn0 *nn.Conv1d
	cnn2 *nn.Conv1d
	cnn4 *nn.Conv1d

	bilstm    *nn.LSTM
	attention *nn.MultiheadAttention

	head0 *nn.Linear
	head2 *nn.Linear
}

// New 按配置创建模型
func New(cfg Config) (*Model, error) {
	if cfg.InputDim <= 0 || cfg.HiddenDim <= 0 || cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("%w: invalid classifier config input=%d hidden=%d classes=%d",
			nn.ErrShapeMismatch, cfg.InputDim, cfg.HiddenDim, cfg.NumClasses)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	embed := 2 * cfg.HiddenDim

	m := &Model{
		config: cfg,
		cnn0:   nn.NewConv1d(cfg.InputDim, 32, 3, 1, 1, rng),
		cnn2:   nn.NewConv1d(32, 64, 3, 1, 1, rng),
		cnn4:   nn.NewConv1d(64, spatialChannels, 3, 1, 1, rng),
		bilstm: nn.NewLSTM(spatialChannels, cfg.HiddenDim, LSTMLayers, true, rng),
	}
	attention, err := nn.NewMultiheadAttention(embed, AttentionHeads, rng)
	if err != nil {
		return nil, err
	}
	m.attention = attention
	m.head0 = nn.NewLinear(embed, headHidden, rng)
	m.head2 = nn.NewLinear(headHidden, cfg.NumClasses, rng)
	return m, nil
}

// Load 创建模型并加载 safetensors 权重
func Load(cfg Config, path string) (*Model, error) {
	sd, err := nn.LoadSafetensors(path)
	if err != nil {
		return nil, err
	}
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.LoadStateDict(sd); err != nil {
		return nil, fmt.Errorf("load classifier weights from %s: %w", path, err)
	}
	return m, nil
}

// Config 返回模型结构参数
func (m *Model) Config() Config { return m.config }

func (m *Model) modules() map[string]nn.Module {
	return map[string]nn.Module{
		"cnn.0.":        m.cnn0,
		"cnn.2.":        m.cnn2,
		"cnn.4.":        m.cnn4,
		"bilstm.":       m.bilstm,
		"attention.":    m.attention,
		"classifier.0.": m.head0,
		"classifier.2.": m.head2,
	}
}

// StateDict 导出全部参数
func (m *Model) StateDict() nn.StateDict {
	sd := nn.StateDict{}
	for prefix, mod := range m.modules() {
		mod.StateDict(prefix, sd)
	}
	return sd
}

// LoadStateDict 加载全部参数，仅在构造阶段调用
func (m *Model) LoadStateDict(sd nn.StateDict) error {
	for prefix, mod := range m.modules() {
		if err := mod.LoadStateDict(prefix, sd); err != nil {
			return err
		}
	}
	return nil
}

// Save 以 F32 写出权重
func (m *Model) Save(path string) error {
	return nn.SaveSafetensors(path, m.StateDict(), nn.DTypeF32)
}

// Forward batch 中每个样本为 L × D 矩阵，返回 B × NumClasses 的 logits
// 空 batch、L 为 0、样本间 L 不一致或 D 不符均返回 ErrShapeMismatch
func (m *Model) Forward(batch []*mat.Dense) (*mat.Dense, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty batch", nn.ErrShapeMismatch)
	}
	var length int
	for i, sample := range batch {
		if sample == nil || sample.IsEmpty() {
			return nil, fmt.Errorf("%w: sample %d has no time steps", nn.ErrShapeMismatch, i)
		}
		steps, features := sample.Dims()
		if features != m.config.InputDim {
			return nil, fmt.Errorf("%w: sample %d has %d features, expected %d",
				nn.ErrShapeMismatch, i, features, m.config.InputDim)
		}
		if i == 0 {
			length = steps
		} else if steps != length {
			return nil, fmt.Errorf("%w: sample %d has length %d, batch length is %d",
				nn.ErrShapeMismatch, i, steps, length)
		}
	}

	logits := mat.NewDense(len(batch), m.config.NumClasses, nil)
	for i, sample := range batch {
		row, err := m.forwardSample(sample)
		if err != nil {
			return nil, err
		}
		logits.SetRow(i, row)
	}
	return logits, nil
}

// forwardSample 单个 L × D 样本的前向计算
func (m *Model) forwardSample(sample *mat.Dense) ([]float64, error) {
	// 卷积在 (D, L) 上进行
	var h mat.Dense
	h.CloneFrom(sample.T())
	x := &h
	for _, conv := range []*nn.Conv1d{m.cnn0, m.cnn2, m.cnn4} {
		out, err := conv.Forward(x)
		if err != nil {
			return nil, err
		}
		x = nn.ReLU(out)
	}

	var seq mat.Dense
	seq.CloneFrom(x.T())
	lstmOut, err := m.bilstm.Forward(&seq)
	if err != nil {
		return nil, err
	}
	attnOut, err := m.attention.Forward(lstmOut)
	if err != nil {
		return nil, err
	}

	steps, _ := attnOut.Dims()
	last := mat.Row(nil, steps-1, attnOut)
	hidden, err := m.head0.ForwardVec(last)
	if err != nil {
		return nil, err
	}
	for i, v := range hidden {
		if v < 0 {
			hidden[i] = 0
		}
	}
	return m.head2.ForwardVec(hidden)
}
