// Package tcnae 实现时间卷积自编码器，用重构误差衡量传感窗口的异常程度
package tcnae

import (
	"fmt"
	"math/rand"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/nn"

	"gonum.org/v1/gonum/mat"
)

const (
	// LatentDim 瓶颈维度
	LatentDim           = 4
	// DefaultWindowLength 默认窗口长度
	DefaultWindowLength = 32

	// 三层膨胀卷积累计多出的时间步
	encoderGrowth  = 14
	hiddenChannels = 8
)

// Config 模型结构参数
type Config struct {
	Channels     int   // 输入通道数 C
	WindowLength int   // 窗口长度 L
	Seed         int64 // 参数初始化种子
}

// Model TCN 自编码器，构造后只读，可并发调用 Forward
type Model struct {
	config Config

	enc0 *nn.Conv1d
	enc2 *nn.Conv1d
	enc4 *nn.Conv1d
	enc7 *nn.Linear

	decLinear *nn.Linear
	dec0      *nn.ConvTranspose1d
	dec2      *nn.ConvTranspose1d
	dec4      *nn.ConvTranspose1d
}

// New 按配置创建模型，参数由 Seed 确定
func New(cfg Config) (*Model, error) {
	if cfg.Channels <= 0 || cfg.WindowLength <= 0 {
		return nil, fmt.Errorf("%w: invalid tcnae config channels=%d window=%d",
			nn.ErrShapeMismatch, cfg.Channels, cfg.WindowLength)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	L := cfg.WindowLength
	return &Model{
		config:    cfg,
		enc0:      nn.NewConv1d(cfg.Channels, 8, 3, 1, 2, rng),
		enc2:      nn.NewConv1d(8, 16, 3, 2, 4, rng),
		enc4:      nn.NewConv1d(16, 8, 3, 4, 8, rng),
		enc7:      nn.NewLinear(hiddenChannels*(L+encoderGrowth), LatentDim, rng),
		decLinear: nn.NewLinear(LatentDim, hiddenChannels*L, rng),
		dec0:      nn.NewConvTranspose1d(8, 16, 3, 1, rng),
		dec2:      nn.NewConvTranspose1d(16, 8, 3, 1, rng),
		dec4:      nn.NewConvTranspose1d(8, cfg.Channels, 3, 1, rng),
	}, nil
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
		return nil, fmt.Errorf("load tcnae weights from %s: %w", path, err)
	}
	return m, nil
}

// Config 返回模型结构参数
func (m *Model) Config() Config { return m.config }

func (m *Model) modules() map[string]nn.Module {
	return map[string]nn.Module{
		"encoder.0.":      m.enc0,
		"encoder.2.":      m.enc2,
		"encoder.4.":      m.enc4,
		"encoder.7.":      m.enc7,
		"decoder_linear.": m.decLinear,
		"decoder.0.":      m.dec0,
		"decoder.2.":      m.dec2,
		"decoder.4.":      m.dec4,
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

// Encode window: C × L，返回 LatentDim 维编码
func (m *Model) Encode(window *mat.Dense) ([]float64, error) {
	channels, length := window.Dims()
	if channels != m.config.Channels || length != m.config.WindowLength {
		return nil, fmt.Errorf("%w: tcnae expects window (%d, %d), got (%d, %d)",
			nn.ErrShapeMismatch, m.config.Channels, m.config.WindowLength, channels, length)
	}

	h := window
	for _, conv := range []*nn.Conv1d{m.enc0, m.enc2, m.enc4} {
		out, err := conv.Forward(h)
		if err != nil {
			return nil, err
		}
		h = nn.ReLU(out)
	}

	// 按通道展平
	rows, cols := h.Dims()
	flat := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		flat = append(flat, h.RawRowView(i)...)
	}
	return m.enc7.ForwardVec(flat)
}

// Decode 由编码重构 C × L 窗口
func (m *Model) Decode(latent []float64) (*mat.Dense, error) {
	flat, err := m.decLinear.ForwardVec(latent)
	if err != nil {
		return nil, err
	}
	L := m.config.WindowLength
	h := mat.NewDense(hiddenChannels, L, flat)

	out, err := m.dec0.Forward(h)
	if err != nil {
		return nil, err
	}
	if out, err = m.dec2.Forward(nn.ReLU(out)); err != nil {
		return nil, err
	}
	if out, err = m.dec4.Forward(nn.ReLU(out)); err != nil {
		return nil, err
	}

	_, produced := out.Dims()
	if produced < L {
		return nil, fmt.Errorf("%w: decoder produced %d steps, need %d", nn.ErrShapeMismatch, produced, L)
	}
	recon := mat.NewDense(m.config.Channels, L, nil)
	recon.Copy(out.Slice(0, m.config.Channels, 0, L))
	return recon, nil
}

// Forward 编码再解码，输出与输入同为 (C, L)
func (m *Model) Forward(window *mat.Dense) (*mat.Dense, error) {
	latent, err := m.Encode(window)
	if err != nil {
		return nil, err
	}
	return m.Decode(latent)
}
