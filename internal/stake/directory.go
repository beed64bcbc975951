// Package stake provides the authority weight directory consulted when
// validator reputation is recomputed.
package stake

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Directory reports voting weights of authorities.
type Directory interface {
	// Weight returns the authority's voting weight. ok is false when the
	// authority is not a recognized voter.
	Weight(ctx context.Context, authority string) (weight float64, ok bool, err error)
	// TotalWeight returns the total voting weight in the system.
	TotalWeight(ctx context.Context) (float64, error)
}

// Static is an in-memory directory. The zero total means "sum of weights".
type Static struct {
	mu      sync.RWMutex
	weights map[string]float64
	total   float64
}

var _ Directory = (*Static)(nil)

// NewStatic builds a directory from a weight table.
func NewStatic(weights map[string]float64, total float64) *Static {
	s := &Static{weights: make(map[string]float64, len(weights)), total: total}
	for k, v := range weights {
		s.weights[k] = v
	}
	return s
}

type staticFile struct {
	Total   float64            `yaml:"total"`
	Weights map[string]float64 `yaml:"weights"`
}

// LoadStaticFile reads a YAML document of the form
//
//	total: 100
//	weights:
//	  producer1: 40
//	  producer2: 60
func LoadStaticFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stake file: %w", err)
	}
	var doc staticFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse stake file %s: %w", path, err)
	}
	for authority, weight := range doc.Weights {
		if weight < 0 {
			return nil, fmt.Errorf("stake file %s: negative weight for %s", path, authority)
		}
	}
	return NewStatic(doc.Weights, doc.Total), nil
}

func (s *Static) Weight(_ context.Context, authority string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.weights[authority]
	return w, ok, nil
}

func (s *Static) TotalWeight(_ context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.total > 0 {
		return s.total, nil
	}
	return sumWeights(s.weights), nil
}

// Set changes one authority's weight. Stake moves outside this service; Set
// lets tests and the static backend model that.
func (s *Static) Set(authority string, weight float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[authority] = weight
}

// Remove drops an authority from the directory.
func (s *Static) Remove(authority string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.weights, authority)
}

// Authorities lists the known authorities in order.
func (s *Static) Authorities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.weights))
	for k := range s.weights {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sumWeights(weights map[string]float64) float64 {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var total float64
	for _, k := range keys {
		total += weights[k]
	}
	return total
}
