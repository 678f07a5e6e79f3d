// Package safetensors reads (and, for tests and tooling, writes) the weights of small classifier
// heads stored in .safetensors files.
//
//	w, err := safetensors.Open("/path/to/classifier.safetensors")
//	defer w.Close()
//	values, shape, err := w.Float32s("embeddings.weight")
package safetensors

import (
	"io"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// Weights is an open, memory-mapped .safetensors file.
type Weights struct {
	path   string
	reader *mmap.ReaderAt
	Header *Header
}

// Open memory-maps the file and parses its header.
func Open(path string) (*Weights, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %s", path)
	}
	header, err := parseHeader(reader, int64(reader.Len()))
	if err != nil {
		_ = reader.Close()
		return nil, errors.WithMessagef(err, "invalid safetensors file %s", path)
	}
	return &Weights{path: path, reader: reader, Header: header}, nil
}

// Close unmaps the file. Tensors already read remain valid.
func (w *Weights) Close() error {
	return w.reader.Close()
}

// Names returns the tensor names, sorted.
func (w *Weights) Names() []string {
	names := make([]string, 0, len(w.Header.Tensors))
	for name := range w.Header.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Metadata returns the metadata of the named tensor.
func (w *Weights) Metadata(name string) (*TensorMetadata, error) {
	tm, found := w.Header.Tensors[name]
	if !found {
		return nil, errors.Errorf("tensor %s not found in %s", name, w.path)
	}
	return tm, nil
}

// Tensor reads the named tensor into a new GoMLX tensor.
func (w *Weights) Tensor(name string) (*tensors.Tensor, error) {
	tm, err := w.Metadata(name)
	if err != nil {
		return nil, err
	}
	dtype, err := tm.DType()
	if err != nil {
		return nil, err
	}
	t := tensors.FromShape(shapes.Make(dtype, tm.Shape...))
	stored := tm.DataOffsets[1] - tm.DataOffsets[0]
	var readErr error
	t.MutableBytes(func(data []byte) {
		if int64(len(data)) != stored {
			readErr = errors.Errorf("tensor %s of shape %s needs %d bytes, but %s stores %d",
				name, t.Shape(), len(data), w.path, stored)
			return
		}
		_, readErr = w.reader.ReadAt(data, w.Header.DataOffset+tm.DataOffsets[0])
		if readErr == io.EOF {
			readErr = nil
		}
	})
	if readErr != nil {
		return nil, errors.Wrapf(readErr, "failed to read tensor %s", name)
	}
	return t, nil
}

// Float32s reads the named Float32 tensor and returns its row-major values and its dimensions.
func (w *Weights) Float32s(name string) ([]float32, []int, error) {
	t, err := w.Tensor(name)
	if err != nil {
		return nil, nil, err
	}
	values, err := Float32s(t)
	if err != nil {
		return nil, nil, errors.WithMessage(err, name)
	}
	return values, t.Shape().Dimensions, nil
}
