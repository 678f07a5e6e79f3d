// Package corpus reads input documents and writes the generated masked corpora.
//
// Inputs are JSON Lines or Parquet files of pipeline.Record. Outputs are one Row per masked
// instance, written as JSON Lines, Parquet or CBOR, plus a JSON manifest describing the run.
package corpus

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/gomlx/go-saliency/pipeline"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// ReadRecords reads all records of the input file: Parquet for ".parquet" files, JSON Lines otherwise.
func ReadRecords(path string) ([]pipeline.Record, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return ReadParquet(path)
	}
	var records []pipeline.Record
	for record, err := range IterJSONL(path) {
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// ReadParquet reads all records of a Parquet file.
func ReadParquet(path string) ([]pipeline.Record, error) {
	records, err := parquet.ReadFile[pipeline.Record](path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read records from %q", path)
	}
	return records, nil
}

// IterJSONL iterates over the records of a JSON Lines file, one JSON object per line.
// Blank lines are skipped. The file is memory-mapped while iterating.
//
// Iteration stops at the first error, which is yielded with a zero record.
func IterJSONL(path string) func(yield func(pipeline.Record, error) bool) {
	return func(yield func(pipeline.Record, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(pipeline.Record{}, errors.Wrapf(err, "failed to open %q", path))
			return
		}
		defer func() { _ = f.Close() }()
		info, err := f.Stat()
		if err != nil {
			yield(pipeline.Record{}, errors.Wrapf(err, "failed to stat %q", path))
			return
		}
		if info.Size() == 0 {
			// Empty files can't be mapped.
			return
		}
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			yield(pipeline.Record{}, errors.Wrapf(err, "failed to memory-map %q", path))
			return
		}
		defer func() { _ = m.Unmap() }()

		data := []byte(m)
		for lineNum := 1; len(data) > 0; lineNum++ {
			line := data
			if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
				line, data = data[:idx], data[idx+1:]
			} else {
				data = nil
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var record pipeline.Record
			if err := json.Unmarshal(line, &record); err != nil {
				yield(pipeline.Record{}, errors.Wrapf(err, "%s:%d: invalid record", path, lineNum))
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}
