// Package httpscorer implements scorer.Scorer and scorer.TokenClassifier by calling a classifier
// sidecar over HTTP.
//
// The sidecar receives BERT features and answers with probabilities:
//
//	POST <url>/score            {"input_ids": [[...]], "input_mask": [[...]], "segment_ids": [[...]]}
//	                         -> {"probabilities": [[...]]}
//	POST <url>/classify-tokens  {"input_ids": [[...]], "input_mask": [[...]], "segment_ids": [[...]]}
//	                         -> {"labels": [[...]], "logits": [[...]]}
//
// Token classifier outputs are indexed by feature position (position 0 is the classification token).
package httpscorer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gomlx/go-saliency/features"
	"github.com/gomlx/go-saliency/scorer"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// DefaultTimeout of each HTTP request.
const DefaultTimeout = 2 * time.Minute

// Client calls the classifier sidecar. It is safe for concurrent use.
type Client struct {
	url       string
	http      *http.Client
	converter *features.Converter

	// BatchSize is the maximum number of sequences sent in one request.
	BatchSize int

	// MaxParallel is the maximum number of concurrent requests of one call.
	MaxParallel int
}

var (
	_ scorer.Scorer          = &Client{}
	_ scorer.TokenClassifier = &Client{}
)

// New creates a Client for the sidecar at baseURL (e.g. "http://classifier:8000").
func New(baseURL string, converter *features.Converter) *Client {
	return &Client{
		url:         strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: DefaultTimeout},
		converter:   converter,
		BatchSize:   32,
		MaxParallel: 1,
	}
}

// WithHTTPClient sets the client used for requests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.http = client
	return c
}

// WithBatchSize sets the maximum number of sequences per request.
func (c *Client) WithBatchSize(batchSize int) *Client {
	c.BatchSize = batchSize
	return c
}

// WithMaxParallel sets the maximum number of concurrent requests.
func (c *Client) WithMaxParallel(maxParallel int) *Client {
	c.MaxParallel = maxParallel
	return c
}

type featuresRequest struct {
	InputIDs   [][]int `json:"input_ids"`
	InputMask  [][]int `json:"input_mask"`
	SegmentIDs [][]int `json:"segment_ids"`
}

type scoreResponse struct {
	Probabilities [][]float32 `json:"probabilities"`
}

type classifyTokensResponse struct {
	Labels [][]int     `json:"labels"`
	Logits [][]float32 `json:"logits"`
}

func (c *Client) newRequest(inputs []scorer.Input) featuresRequest {
	req := featuresRequest{
		InputIDs:   make([][]int, len(inputs)),
		InputMask:  make([][]int, len(inputs)),
		SegmentIDs: make([][]int, len(inputs)),
	}
	for ii, in := range inputs {
		f := c.converter.Convert(in.Tokens, in.Pair)
		req.InputIDs[ii] = f.InputIDs
		req.InputMask[ii] = f.InputMask
		req.SegmentIDs[ii] = f.SegmentIDs
	}
	return req
}

// chunks runs fn over consecutive chunks of at most BatchSize of n items, with at most
// MaxParallel concurrent calls. It returns the first error.
func (c *Client) chunks(ctx context.Context, n int, fn func(ctx context.Context, start, end int) error) error {
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.MaxParallel))
	for start := 0; start < n; start += c.BatchSize {
		end := min(start+c.BatchSize, n)
		g.Go(func() error {
			return fn(gctx, start, end)
		})
	}
	return g.Wait()
}

// Score implements scorer.Scorer.
func (c *Client) Score(ctx context.Context, inputs []scorer.Input) ([][]float32, error) {
	results := make([][]float32, len(inputs))
	err := c.chunks(ctx, len(inputs), func(ctx context.Context, start, end int) error {
		var resp scoreResponse
		if err := c.post(ctx, "/score", c.newRequest(inputs[start:end]), &resp); err != nil {
			return errors.WithMessagef(err, "scoring inputs [%d, %d)", start, end)
		}
		if len(resp.Probabilities) != end-start {
			return errors.Errorf("scoring inputs [%d, %d): sidecar returned %d results", start, end, len(resp.Probabilities))
		}
		copy(results[start:end], resp.Probabilities)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ClassifyTokens implements scorer.TokenClassifier.
//
// Tokens beyond the feature window are predicted as "keep" (label 0).
func (c *Client) ClassifyTokens(ctx context.Context, sequences [][]string) ([][]scorer.TokenPrediction, error) {
	results := make([][]scorer.TokenPrediction, len(sequences))
	err := c.chunks(ctx, len(sequences), func(ctx context.Context, start, end int) error {
		inputs := make([]scorer.Input, end-start)
		for ii := range inputs {
			inputs[ii] = scorer.Input{Tokens: sequences[start+ii]}
		}
		var resp classifyTokensResponse
		if err := c.post(ctx, "/classify-tokens", c.newRequest(inputs), &resp); err != nil {
			return errors.WithMessagef(err, "classifying tokens of sequences [%d, %d)", start, end)
		}
		if len(resp.Labels) != end-start || len(resp.Logits) != end-start {
			return errors.Errorf("classifying tokens of sequences [%d, %d): sidecar returned %d labels and %d logits",
				start, end, len(resp.Labels), len(resp.Logits))
		}
		for ii := range inputs {
			seq := sequences[start+ii]
			labels, logits := resp.Labels[ii], resp.Logits[ii]
			preds := make([]scorer.TokenPrediction, len(seq))
			for pos := range seq {
				// Feature position 0 is the classification token.
				fpos := pos + 1
				if fpos >= len(labels) || fpos >= len(logits) || pos >= c.converter.Window(nil) {
					break
				}
				preds[pos] = scorer.TokenPrediction{Label: labels[fpos], Logit: logits[fpos]}
			}
			results[start+ii] = preds
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) post(ctx context.Context, path string, request, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "failed to create request to %s", c.url+path)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", c.url+path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("request to %s: unexpected status %s: %s", c.url+path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return errors.Wrapf(err, "failed to decode response of %s", c.url+path)
	}
	klog.V(2).Infof("POST %s: %d bytes in %s", c.url+path, len(body), time.Since(start))
	return nil
}
