package stake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
)

// HTTP fetches a JSON document describing voting weights and extracts them
// with JSONPath expressions. Documents are cached for TTL.
type HTTP struct {
	url         string
	weightsPath string
	totalPath   string
	ttl         time.Duration
	client      *http.Client
	now         func() time.Time

	mu        sync.Mutex
	fetchedAt time.Time
	weights   map[string]float64
	total     float64
}

var _ Directory = (*HTTP)(nil)

// HTTPOptions configures NewHTTP. WeightsPath must select an object of
// authority -> weight; TotalPath is optional.
type HTTPOptions struct {
	URL         string
	WeightsPath string
	TotalPath   string
	TTL         time.Duration
	Client      *http.Client
}

// NewHTTP creates a directory backed by a remote JSON document.
func NewHTTP(opts HTTPOptions) *HTTP {
	if opts.WeightsPath == "" {
		opts.WeightsPath = "$.weights"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTP{
		url:         opts.URL,
		weightsPath: opts.WeightsPath,
		totalPath:   opts.TotalPath,
		ttl:         opts.TTL,
		client:      opts.Client,
		now:         time.Now,
	}
}

func (h *HTTP) Weight(ctx context.Context, authority string) (float64, bool, error) {
	weights, _, err := h.snapshot(ctx)
	if err != nil {
		return 0, false, err
	}
	w, ok := weights[authority]
	return w, ok, nil
}

func (h *HTTP) TotalWeight(ctx context.Context) (float64, error) {
	weights, total, err := h.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if total > 0 {
		return total, nil
	}
	return sumWeights(weights), nil
}

func (h *HTTP) snapshot(ctx context.Context) (map[string]float64, float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.weights != nil && h.now().Sub(h.fetchedAt) < h.ttl {
		return h.weights, h.total, nil
	}
	weights, total, err := h.fetch(ctx)
	if err != nil {
		return nil, 0, err
	}
	h.weights, h.total, h.fetchedAt = weights, total, h.now()
	return weights, total, nil
}

func (h *HTTP) fetch(ctx context.Context) (map[string]float64, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build stake request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch stake document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch stake document: unexpected status %d", resp.StatusCode)
	}

	var doc interface{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("decode stake document: %w", err)
	}

	raw, err := jsonpath.Get(h.weightsPath, doc)
	if err != nil {
		return nil, 0, fmt.Errorf("evaluate %s: %w", h.weightsPath, err)
	}
	table, ok := raw.(map[string]interface{})
	if !ok {
		return nil, 0, fmt.Errorf("evaluate %s: expected an object, got %T", h.weightsPath, raw)
	}
	weights := make(map[string]float64, len(table))
	for authority, v := range table {
		w, err := toFloat(v)
		if err != nil {
			return nil, 0, fmt.Errorf("weight of %s: %w", authority, err)
		}
		weights[authority] = w
	}

	var total float64
	if h.totalPath != "" {
		rawTotal, err := jsonpath.Get(h.totalPath, doc)
		if err != nil {
			return nil, 0, fmt.Errorf("evaluate %s: %w", h.totalPath, err)
		}
		if total, err = toFloat(rawTotal); err != nil {
			return nil, 0, fmt.Errorf("total weight: %w", err)
		}
	}
	return weights, total, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("unsupported weight value %T", v)
	}
}
