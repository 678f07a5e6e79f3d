package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Float32s returns a copy of the flat (row-major) values of a Float32 tensor.
func Float32s(t *tensors.Tensor) ([]float32, error) {
	if dtype := t.Shape().DType; dtype != dtypes.Float32 {
		return nil, errors.Errorf("tensor of shape %s is not Float32", t.Shape())
	}
	values := make([]float32, t.Shape().Size())
	t.MutableBytes(func(data []byte) {
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
	})
	return values, nil
}

// Float32Tensor is a named row-major Float32 tensor to be written with WriteFloat32File.
type Float32Tensor struct {
	Name   string
	Shape  []int
	Values []float32
}

// WriteFloat32File writes the tensors as a single .safetensors file, in name order.
func WriteFloat32File(path string, ts []Float32Tensor, metadata map[string]string) error {
	ts = slices.Clone(ts)
	slices.SortFunc(ts, func(a, b Float32Tensor) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})

	header := make(map[string]any, len(ts)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var data bytes.Buffer
	for _, t := range ts {
		size := 1
		for _, dim := range t.Shape {
			size *= dim
		}
		if size != len(t.Values) {
			return errors.Errorf("tensor %s: shape %v needs %d values, got %d", t.Name, t.Shape, size, len(t.Values))
		}
		start := int64(data.Len())
		for _, v := range t.Values {
			_ = binary.Write(&data, binary.LittleEndian, v)
		}
		header[t.Name] = TensorMetadata{
			Dtype:       "F32",
			Shape:       t.Shape,
			DataOffsets: [2]int64{start, int64(data.Len())},
		}
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to encode safetensors header")
	}
	// Header is padded with spaces so tensor data is 8-byte aligned.
	for len(headerBytes)%8 != 0 {
		headerBytes = append(headerBytes, ' ')
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, uint64(len(headerBytes)))
	out.Write(headerBytes)
	out.Write(data.Bytes())
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
