package consumer

import (
	"fmt"
	"sync"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"gonum.org/v1/gonum/mat"
)

// 窗口通道顺序
const (
	ChannelDistance = iota
	ChannelMotion
	ChannelTemperature

	// WindowChannels 窗口通道数
	WindowChannels = 3
)

// nodeWindow 单个节点的环形缓冲
type nodeWindow struct {
	values    [][WindowChannels]float64
	next      int
	count     int
	sinceEmit int
	emitted   bool
	lastTemp  float64
}

// WindowBuffer 按节点缓存最近 length 条读数，组装成 (通道, 长度) 的传感窗口
type WindowBuffer struct {
	mu     sync.Mutex
	length int
	stride int
	nodes  map[string]*nodeWindow
}

// NewWindowBuffer 创建窗口缓冲；窗口填满后每 stride 条读数产出一个窗口
// length 必须为正，stride 非正时按 1 处理
func NewWindowBuffer(length, stride int) (*WindowBuffer, error) {
	if length <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %d", length)
	}
	if stride <= 0 {
		stride = 1
	}
	return &WindowBuffer{
		length: length,
		stride: stride,
		nodes:  make(map[string]*nodeWindow),
	}, nil
}

// Length 窗口长度
func (b *WindowBuffer) Length() int { return b.length }

// Push 追加一条读数，需要评估时返回按时间从旧到新排列的窗口
// 缺失的温度沿用该节点上一次的温度
func (b *WindowBuffer) Push(r models.SensorReading) (*mat.Dense, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.nodes[r.NodeID]
	if !ok {
		w = &nodeWindow{values: make([][WindowChannels]float64, b.length)}
		b.nodes[r.NodeID] = w
	}

	if r.Temperature != nil {
		w.lastTemp = *r.Temperature
	}
	w.values[w.next] = [WindowChannels]float64{r.Distance, r.MotionValue(), w.lastTemp}
	w.next = (w.next + 1) % b.length
	if w.count < b.length {
		w.count++
	}
	w.sinceEmit++

	if w.count < b.length {
		return nil, false
	}
	if w.emitted && w.sinceEmit < b.stride {
		return nil, false
	}
	w.emitted = true
	w.sinceEmit = 0

	window := mat.NewDense(WindowChannels, b.length, nil)
	for i := 0; i < b.length; i++ {
		v := w.values[(w.next+i)%b.length]
		for c := 0; c < WindowChannels; c++ {
			window.Set(c, i, v[c])
		}
	}
	return window, true
}

// Reset 丢弃节点已缓存的读数
func (b *WindowBuffer) Reset(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, nodeID)
}
