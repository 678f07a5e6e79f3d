package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/gomlx/go-saliency/masking"
	"github.com/gomlx/go-saliency/pipeline"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadJSONL(t *testing.T) {
	path := writeFile(t, "in.jsonl", `{"text": "The food was great.", "label": "pos"}

{"text": "OK great", "facts": [{"category": "food", "polarity": "positive"}, {"term": "service", "polarity": "conflict"}]}
`)
	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, pipeline.Record{Text: "The food was great.", Label: "pos"}, records[0])
	require.Len(t, records[1].Facts, 2)
	assert.Equal(t, "food", records[1].Facts[0].Aspect())
	assert.Equal(t, "conflict", records[1].Facts[1].Polarity)

	// Last line without a newline.
	path = writeFile(t, "in.jsonl", `{"text": "a"}`+"\n"+`{"text": "b"}`)
	records, err = ReadRecords(path)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestReadJSONLEdgeCases(t *testing.T) {
	records, err := ReadRecords(writeFile(t, "empty.jsonl", ""))
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = ReadRecords(writeFile(t, "bad.jsonl", "{\"text\": \"a\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jsonl:2")

	_, err = ReadRecords(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)

	// Stop early.
	path := writeFile(t, "in.jsonl", "{\"text\": \"a\"}\n{\"text\": \"b\"}\n")
	count := 0
	for _, err := range IterJSONL(path) {
		require.NoError(t, err)
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestReadParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.parquet")
	want := []pipeline.Record{
		{Text: "The food was great.", Label: "pos"},
		{Text: "OK great", Facts: []pipeline.Fact{{Category: "food", Polarity: "positive"}}},
	}
	require.NoError(t, parquet.WriteFile(path, want))
	records, err := ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, want[0].Text, records[0].Text)
	assert.Equal(t, want[0].Label, records[0].Label)
	require.Len(t, records[1].Facts, 1)
	assert.Equal(t, want[1].Facts[0], records[1].Facts[0])
}

func testDocuments() []masking.Document {
	return []masking.Document{
		{Replica: 0, Index: 0, Instances: []masking.Instance{
			{
				Tokens: []string{"the", "food", "was", "great"},
				Info:   []masking.MaskedItemInfo{{}, {Replacement: "[MASK]", Label: "food"}, {}, {Replacement: "great", Label: "great"}},
			},
			{Tokens: []string{"slow"}, Info: []masking.MaskedItemInfo{{}}},
		}},
		{Replica: 0, Index: 1},
		{Replica: 1, Index: 0, Instances: []masking.Instance{
			{Tokens: []string{"ok"}, Info: []masking.MaskedItemInfo{{Replacement: "x", Label: "ok"}}},
		}},
	}
}

func TestRows(t *testing.T) {
	rows := Rows(testDocuments())
	require.Len(t, rows, 3)
	assert.Equal(t, Row{
		Replica: 0, Document: 0, Sentence: 0,
		Tokens:          []string{"the", "food", "was", "great"},
		MaskedPositions: []int{1, 3},
		MaskedTokens:    []string{"[MASK]", "great"},
		MaskedLabels:    []string{"food", "great"},
	}, rows[0])
	assert.Equal(t, 1, rows[1].Sentence)
	assert.Empty(t, rows[1].MaskedPositions)
	assert.Equal(t, 1, rows[2].Replica)
}

func TestWriteAndReadBack(t *testing.T) {
	for _, format := range []Format{JSONL, Parquet, CBOR} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out."+format.String())
			assert.Equal(t, format, FormatFromPath(path))
			w, err := Create(path, format)
			require.NoError(t, err)
			docs := testDocuments()
			require.NoError(t, w.Write(docs[:2]))
			require.NoError(t, w.Write(docs[2:]))
			require.NoError(t, w.Close())
			assert.NoFileExists(t, path+".lock")

			rows, err := ReadRows(path, format)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			want := Rows(docs)
			for ii := range want {
				assert.Equal(t, want[ii].Tokens, rows[ii].Tokens)
				assert.Equal(t, want[ii].Replica, rows[ii].Replica)
				assert.Equal(t, want[ii].Sentence, rows[ii].Sentence)
				assert.Equal(t, len(want[ii].MaskedPositions), len(rows[ii].MaskedPositions))
				if len(want[ii].MaskedPositions) > 0 {
					assert.Equal(t, want[ii].MaskedPositions, rows[ii].MaskedPositions)
					assert.Equal(t, want[ii].MaskedLabels, rows[ii].MaskedLabels)
				}
			}
		})
	}
}

func TestCreateLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	_, err = Create(path, JSONL)
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	f, err := ParseFormat("PARQUET")
	require.NoError(t, err)
	assert.Equal(t, Parquet, f)
	_, err = ParseFormat("csv")
	assert.Error(t, err)
	assert.Equal(t, JSONL, FormatFromPath("out.txt"))
}

func TestManifest(t *testing.T) {
	m := NewManifest("sc", CBOR)
	_, err := uuid.Parse(m.RunID)
	require.NoError(t, err)
	m.Output = "out.cbor"
	m.Documents, m.Instances = 2, 3
	m.Config = map[string]any{"mask_rate": 0.15}

	path := ManifestPath(filepath.Join(t.TempDir(), "out.cbor"))
	assert.Equal(t, "out.cbor.manifest.json", filepath.Base(path))
	require.NoError(t, m.Write(path))
	loaded, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, loaded.RunID)
	assert.Equal(t, "cbor", loaded.Format)
	assert.Equal(t, 3, loaded.Instances)
	assert.True(t, m.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, map[string]any{"mask_rate": 0.15}, loaded.Config)
}
