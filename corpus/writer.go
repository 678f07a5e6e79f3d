package corpus

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
	"github.com/gomlx/go-saliency/masking"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Row is one masked instance of the output.
type Row struct {
	Replica  int `json:"replica" parquet:"replica" cbor:"replica"`
	Document int `json:"document" parquet:"document" cbor:"document"`
	Sentence int `json:"sentence" parquet:"sentence" cbor:"sentence"`

	Tokens []string `json:"tokens" parquet:"tokens" cbor:"tokens"`

	// MaskedPositions, MaskedTokens (the replacements) and MaskedLabels (the original tokens)
	// are parallel lists, in ascending position order.
	MaskedPositions []int    `json:"masked_positions" parquet:"masked_positions" cbor:"masked_positions"`
	MaskedTokens    []string `json:"masked_tokens" parquet:"masked_tokens" cbor:"masked_tokens"`
	MaskedLabels    []string `json:"masked_labels" parquet:"masked_labels" cbor:"masked_labels"`
}

// NewRow converts the instance at index sentence of a document to a Row.
func NewRow(doc masking.Document, sentence int) Row {
	inst := doc.Instances[sentence]
	row := Row{
		Replica:         doc.Replica,
		Document:        doc.Index,
		Sentence:        sentence,
		Tokens:          inst.Tokens,
		MaskedPositions: inst.MaskedPositions(),
	}
	for _, pos := range row.MaskedPositions {
		row.MaskedTokens = append(row.MaskedTokens, inst.Info[pos].Replacement)
		row.MaskedLabels = append(row.MaskedLabels, inst.Info[pos].Label)
	}
	return row
}

// Rows converts documents to rows, in order.
func Rows(docs []masking.Document) []Row {
	var rows []Row
	for _, doc := range docs {
		for sentence := range doc.Instances {
			rows = append(rows, NewRow(doc, sentence))
		}
	}
	return rows
}

// Format of an output file.
type Format int

const (
	JSONL Format = iota
	Parquet
	CBOR
)

var formatNames = [...]string{"jsonl", "parquet", "cbor"}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return "Format(?)"
	}
	return formatNames[f]
}

// ParseFormat parses a format name, as returned by Format.String.
func ParseFormat(name string) (Format, error) {
	for ii, n := range formatNames {
		if strings.EqualFold(name, n) {
			return Format(ii), nil
		}
	}
	return 0, errors.Errorf("unknown output format %q, valid formats are %q", name, formatNames)
}

// FormatFromPath returns the format matching the file extension, JSONL if unknown.
func FormatFromPath(path string) Format {
	if f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return f
	}
	return JSONL
}

// Writer writes the rows of masked documents.
type Writer interface {
	Write(docs []masking.Document) error
	Close() error
}

// Create creates the output file in the given format. The output is locked (with a "<path>.lock"
// file) until the Writer is closed, and creation fails if another process holds the lock.
func Create(path string, format Format) (Writer, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock output %q", path)
	}
	if !locked {
		return nil, errors.Errorf("output %q is locked by another process", path)
	}
	f, err := os.Create(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrapf(err, "failed to create output %q", path)
	}
	base := &fileWriter{path: path, file: f, buf: bufio.NewWriter(f), lock: lock}
	switch format {
	case JSONL:
		enc := json.NewEncoder(base.buf)
		return &encoderWriter{fileWriter: base, encode: enc.Encode}, nil
	case CBOR:
		enc := cbor.NewEncoder(base.buf)
		return &encoderWriter{fileWriter: base, encode: enc.Encode}, nil
	case Parquet:
		return &parquetWriter{fileWriter: base, out: parquet.NewGenericWriter[Row](base.buf)}, nil
	}
	_ = base.Close()
	return nil, errors.Errorf("unsupported output format %s", format)
}

// fileWriter owns the output file and its lock.
type fileWriter struct {
	path string
	file *os.File
	buf  *bufio.Writer
	lock *flock.Flock
	rows int
}

// Close flushes and closes the file and releases the lock.
func (w *fileWriter) Close() error {
	err := w.buf.Flush()
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	if unlockErr := w.lock.Unlock(); unlockErr != nil {
		klog.Warningf("failed to unlock %q: %v", w.lock.Path(), unlockErr)
	}
	if removeErr := os.Remove(w.lock.Path()); removeErr != nil && !os.IsNotExist(removeErr) {
		klog.Warningf("failed to remove lock file %q: %v", w.lock.Path(), removeErr)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to close output %q", w.path)
	}
	klog.V(1).Infof("wrote %d rows to %q", w.rows, w.path)
	return nil
}

// encoderWriter writes a stream of encoded rows (JSON Lines or a CBOR sequence).
type encoderWriter struct {
	*fileWriter
	encode func(v any) error
}

// Write implements Writer.
func (w *encoderWriter) Write(docs []masking.Document) error {
	for _, row := range Rows(docs) {
		if err := w.encode(row); err != nil {
			return errors.Wrapf(err, "failed to write row %d to %q", w.rows, w.path)
		}
		w.rows++
	}
	return nil
}

type parquetWriter struct {
	*fileWriter
	out *parquet.GenericWriter[Row]
}

// Write implements Writer.
func (w *parquetWriter) Write(docs []masking.Document) error {
	rows := Rows(docs)
	if _, err := w.out.Write(rows); err != nil {
		return errors.Wrapf(err, "failed to write %d rows to %q", len(rows), w.path)
	}
	w.rows += len(rows)
	return nil
}

// Close implements Writer.
func (w *parquetWriter) Close() error {
	if err := w.out.Close(); err != nil {
		_ = w.fileWriter.Close()
		return errors.Wrapf(err, "failed to finish parquet output %q", w.path)
	}
	return w.fileWriter.Close()
}

// ReadRows reads back the rows of an output file.
func ReadRows(path string, format Format) ([]Row, error) {
	if format == Parquet {
		rows, err := parquet.ReadFile[Row](path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read rows from %q", path)
		}
		return rows, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	var decode func(v any) error
	if format == CBOR {
		decode = cbor.NewDecoder(bufio.NewReader(f)).Decode
	} else {
		decode = json.NewDecoder(bufio.NewReader(f)).Decode
	}
	var rows []Row
	for {
		var row Row
		err := decode(&row)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read row %d of %q", len(rows), path)
		}
		rows = append(rows, row)
	}
}
