package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// maxHeaderSize is a sanity check on the header length prefix.
const maxHeaderSize = 100 * 1024 * 1024

// metadataKey is the reserved header entry holding free-form string metadata.
const metadataKey = "__metadata__"

// TensorMetadata describes one tensor of a safetensors file.
type TensorMetadata struct {
	Name        string   `json:"-"`
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the data section.
}

// dtypeOf maps safetensors dtype names to GoMLX dtypes.
var dtypeOf = map[string]dtypes.DType{
	"BOOL": dtypes.Bool,
	"I8":   dtypes.Int8,
	"I16":  dtypes.Int16,
	"I32":  dtypes.Int32,
	"I64":  dtypes.Int64,
	"U8":   dtypes.Uint8,
	"U16":  dtypes.Uint16,
	"U32":  dtypes.Uint32,
	"U64":  dtypes.Uint64,
	"F16":  dtypes.Float16,
	"BF16": dtypes.BFloat16,
	"F32":  dtypes.Float32,
	"F64":  dtypes.Float64,
}

// DType returns the GoMLX dtype of the tensor.
func (tm *TensorMetadata) DType() (dtypes.DType, error) {
	dtype, found := dtypeOf[strings.ToUpper(tm.Dtype)]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("tensor %s: dtype %q not supported", tm.Name, tm.Dtype)
	}
	return dtype, nil
}

// Header of a safetensors file:
//
//	[8 bytes: little-endian u64 N]
//	[N bytes: JSON object, tensor name -> TensorMetadata, plus optional "__metadata__"]
//	[tensor data]
type Header struct {
	Tensors  map[string]*TensorMetadata
	Metadata map[string]string

	// DataOffset is the file offset of the data section.
	DataOffset int64
}

// parseHeader reads the header of a safetensors file of the given size, and checks that every
// tensor lies within the file.
func parseHeader(r io.ReaderAt, fileSize int64) (*Header, error) {
	var prefix [8]byte
	if _, err := r.ReadAt(prefix[:], 0); err != nil {
		return nil, errors.Wrap(err, "failed to read header size")
	}
	headerSize := binary.LittleEndian.Uint64(prefix[:])
	if headerSize > maxHeaderSize || int64(headerSize) > fileSize-8 {
		return nil, errors.Errorf("invalid header size %d for a file of %d bytes", headerSize, fileSize)
	}
	content := make([]byte, headerSize)
	if _, err := r.ReadAt(content, 8); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to read header")
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}
	header := &Header{
		Tensors:    make(map[string]*TensorMetadata, len(entries)),
		DataOffset: 8 + int64(headerSize),
	}
	dataSize := fileSize - header.DataOffset
	for name, value := range entries {
		if name == metadataKey {
			if err := json.Unmarshal(value, &header.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to parse "+metadataKey)
			}
			continue
		}
		tm := &TensorMetadata{Name: name}
		if err := json.Unmarshal(value, tm); err != nil {
			return nil, errors.Wrapf(err, "failed to parse metadata of tensor %s", name)
		}
		start, end := tm.DataOffsets[0], tm.DataOffsets[1]
		if start < 0 || end < start || end > dataSize {
			return nil, errors.Errorf("tensor %s: data offsets %v outside the %d bytes of data", name, tm.DataOffsets, dataSize)
		}
		header.Tensors[name] = tm
	}
	return header, nil
}
