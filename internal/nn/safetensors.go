package nn

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// 支持的 safetensors 数据类型
const (
	DTypeF32 = "F32"
	DTypeF64 = "F64"
)

type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// ReadSafetensors 解析 safetensors 格式：8 字节小端头长度，JSON 头，随后为原始数据
func ReadSafetensors(r io.Reader) (StateDict, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)-8) < headerLen {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size", headerLen)
	}
	body := data[8+headerLen:]

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors: failed to parse header: %w", err)
	}

	sd := make(StateDict, len(header))
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}
		var meta tensorMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		var width int
		switch meta.Dtype {
		case DTypeF32:
			width = 4
		case DTypeF64:
			width = 8
		default:
			return nil, fmt.Errorf("safetensors: tensor %q has unsupported dtype %s", name, meta.Dtype)
		}

		start, end := meta.DataOffsets[0], meta.DataOffsets[1]
		if start < 0 || end < start || end > len(body) {
			return nil, fmt.Errorf("safetensors: tensor %q data range [%d:%d] exceeds file size %d", name, start, end, len(body))
		}
		count := numel(meta.Shape)
		if end-start != count*width {
			return nil, fmt.Errorf("safetensors: tensor %q data size %d doesn't match shape %v", name, end-start, meta.Shape)
		}

		values := make([]float64, count)
		chunk := body[start:end]
		for i := range values {
			if width == 4 {
				values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*4:])))
			} else {
				values[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk[i*8:]))
			}
		}
		sd[name] = Tensor{Shape: meta.Shape, Data: values}
	}
	return sd, nil
}

// LoadSafetensors 从文件读取 state_dict
func LoadSafetensors(path string) (StateDict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %w", err)
	}
	defer f.Close()
	return ReadSafetensors(f)
}

// WriteSafetensors 按参数名排序写出 state_dict，dtype 为 F32 或 F64
func WriteSafetensors(w io.Writer, sd StateDict, dtype string) error {
	var width int
	switch dtype {
	case DTypeF32:
		width = 4
	case DTypeF64:
		width = 8
	default:
		return fmt.Errorf("safetensors: unsupported dtype %s", dtype)
	}

	header := make(map[string]tensorMeta, len(sd))
	var body bytes.Buffer
	for _, name := range sd.Keys() {
		t := sd[name]
		start := body.Len()
		buf := make([]byte, width)
		for _, v := range t.Data {
			if width == 4 {
				binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			} else {
				binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			}
			body.Write(buf)
		}
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[name] = tensorMeta{Dtype: dtype, Shape: shape, DataOffsets: [2]int{start, body.Len()}}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: failed to encode header: %w", err)
	}
	// 头部按 8 字节对齐，空格填充
	if pad := len(headerJSON) % 8; pad != 0 {
		headerJSON = append(headerJSON, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerJSON)))
	for _, chunk := range [][]byte{lenBuf[:], headerJSON, body.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("safetensors: %w", err)
		}
	}
	return nil
}

// SaveSafetensors 写出到文件
func SaveSafetensors(path string, sd StateDict, dtype string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("safetensors: %w", err)
	}
	if err := WriteSafetensors(f, sd, dtype); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
