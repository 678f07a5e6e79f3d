package httpscorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gomlx/go-saliency/features"
	"github.com/gomlx/go-saliency/scorer"
	"github.com/gomlx/go-saliency/tokenizers/hftokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ids: [PAD]=0 [UNK]=1 [CLS]=2 [SEP]=3 [MASK]=4 the=5 food=6 was=7 great=8 .=9
const testVocab = "[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\nthe\nfood\nwas\ngreat\n.\n"

func newConverter(t *testing.T, maxSeqLength int) *features.Converter {
	t.Helper()
	tok, err := hftokenizer.NewFromVocab([]byte(testVocab), true)
	require.NoError(t, err)
	c, err := features.New(tok, maxSeqLength)
	require.NoError(t, err)
	return c
}

// newSidecar fakes a classifier: the "positive" probability is the number of real tokens / 10,
// and the token classifier marks "great" (id 8) for masking with logit equal to the position.
func newSidecar(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /score", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var req featuresRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := scoreResponse{}
		for _, mask := range req.InputMask {
			var n float32
			for _, m := range mask {
				n += float32(m)
			}
			resp.Probabilities = append(resp.Probabilities, []float32{1 - n/10, n / 10})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /classify-tokens", func(w http.ResponseWriter, r *http.Request) {
		var req featuresRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := classifyTokensResponse{}
		for _, ids := range req.InputIDs {
			labels := make([]int, len(ids))
			logits := make([]float32, len(ids))
			for pos, id := range ids {
				if id == 8 {
					labels[pos] = 1
				}
				logits[pos] = float32(pos)
			}
			resp.Labels = append(resp.Labels, labels)
			resp.Logits = append(resp.Logits, logits)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /broken/score", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestScore(t *testing.T) {
	var requests atomic.Int32
	server := newSidecar(t, &requests)
	client := New(server.URL+"/", newConverter(t, 8)).WithBatchSize(2).WithMaxParallel(3)

	inputs := []scorer.Input{
		{Tokens: []string{"the"}},
		{Tokens: []string{"the", "food"}},
		{Tokens: []string{"the", "food", "was"}},
		{Tokens: []string{"the", "food", "was", "great"}},
		{Tokens: []string{"food"}, Pair: []string{"the"}},
	}
	probs, err := client.Score(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, probs, 5)
	// [CLS] + tokens + [SEP] (+ pair + [SEP]).
	wantPositive := []float32{0.3, 0.4, 0.5, 0.6, 0.5}
	for ii, p := range probs {
		assert.InDelta(t, wantPositive[ii], p[1], 1e-6, "input #%d", ii)
	}
	assert.Equal(t, int32(3), requests.Load())
}

func TestScoreError(t *testing.T) {
	var requests atomic.Int32
	server := newSidecar(t, &requests)
	client := New(server.URL+"/broken", newConverter(t, 8))
	_, err := client.Score(context.Background(), []scorer.Input{{Tokens: []string{"the"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")

	client = New(server.URL, newConverter(t, 8)).WithBatchSize(0)
	_, err = client.Score(context.Background(), []scorer.Input{{Tokens: []string{"the"}}})
	assert.Error(t, err)
}

func TestScoreEmpty(t *testing.T) {
	var requests atomic.Int32
	server := newSidecar(t, &requests)
	client := New(server.URL, newConverter(t, 8))
	probs, err := client.Score(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, probs)
	assert.Equal(t, int32(0), requests.Load())
}

func TestClassifyTokens(t *testing.T) {
	var requests atomic.Int32
	server := newSidecar(t, &requests)
	// Window of 4 tokens.
	client := New(server.URL, newConverter(t, 6)).WithBatchSize(1).WithMaxParallel(2)

	sequences := [][]string{
		{"the", "food", "was", "great"},
		{"great", "food", "the", "the", "great"},
	}
	preds, err := client.ClassifyTokens(context.Background(), sequences)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, []scorer.TokenPrediction{
		{Label: 0, Logit: 1}, {Label: 0, Logit: 2}, {Label: 0, Logit: 3}, {Label: 1, Logit: 4},
	}, preds[0])
	// Last "great" falls beyond the window and is kept.
	require.Len(t, preds[1], 5)
	assert.Equal(t, scorer.TokenPrediction{Label: 1, Logit: 1}, preds[1][0])
	assert.Equal(t, scorer.TokenPrediction{}, preds[1][4])
}
