package nn

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafetensors_RoundTripF64(t *testing.T) {
	sd := StateDict{}
	NewConv1d(3, 8, 3, 2, 4, rand.New(rand.NewSource(7))).StateDict("encoder.2.", sd)

	var buf bytes.Buffer
	require.NoError(t, WriteSafetensors(&buf, sd, DTypeF64))

	headerLen := binary.LittleEndian.Uint64(buf.Bytes()[:8])
	assert.Zero(t, headerLen%8)

	loaded, err := ReadSafetensors(&buf)
	require.NoError(t, err)
	assert.Equal(t, sd, loaded)
}

func TestSafetensors_RoundTripF32(t *testing.T) {
	sd := StateDict{"w": {Shape: []int{2, 2}, Data: []float64{0.1, -2.5, 3, 1e-3}}}

	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, SaveSafetensors(path, sd, DTypeF32))

	loaded, err := LoadSafetensors(path)
	require.NoError(t, err)
	require.Contains(t, loaded, "w")
	assert.Equal(t, []int{2, 2}, loaded["w"].Shape)
	assert.InDeltaSlice(t, sd["w"].Data, loaded["w"].Data, 1e-6)
}

func TestSafetensors_SkipsMetadata(t *testing.T) {
	header := []byte(`{"__metadata__":{"format":"pt"},"b":{"dtype":"F32","shape":[1],"data_offsets":[0,4]}}`)
	var buf bytes.Buffer
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	buf.Write(lenBuf[:])
	buf.Write(header)
	buf.Write([]byte{0, 0, 128, 63}) // 1.0f

	loaded, err := ReadSafetensors(&buf)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Equal(t, []float64{1}, loaded["b"].Data)
}

func TestSafetensors_Invalid(t *testing.T) {
	_, err := ReadSafetensors(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 1000)
	_, err = ReadSafetensors(bytes.NewReader(append(lenBuf[:], '{', '}')))
	assert.Error(t, err)

	header := []byte(`{"x":{"dtype":"I64","shape":[1],"data_offsets":[0,8]}}`)
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	data := append(append(lenBuf[:], header...), make([]byte, 8)...)
	_, err = ReadSafetensors(bytes.NewReader(data))
	assert.Error(t, err)

	header = []byte(`{"x":{"dtype":"F32","shape":[4],"data_offsets":[0,8]}}`)
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	data = append(append(lenBuf[:], header...), make([]byte, 8)...)
	_, err = ReadSafetensors(bytes.NewReader(data))
	assert.Error(t, err)

	assert.Error(t, WriteSafetensors(&bytes.Buffer{}, StateDict{}, "BF16"))
}
