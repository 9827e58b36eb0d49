package store

import (
	"context"
	"sort"
	"sync"

	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/ranker"
)

// Memory is an in-process vector backend using brute-force cosine similarity.
type Memory struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]models.Entry
}

func NewMemory() *Memory {
	return &Memory{namespaces: make(map[string]map[string]models.Entry)}
}

func (m *Memory) Upsert(ctx context.Context, namespace string, entries []models.Entry) error {
	if namespace == "" {
		return types.Configf("namespace is required")
	}
	for _, e := range entries {
		if e.ID == "" {
			return types.Configf("entry id is required")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]models.Entry)
		m.namespaces[namespace] = ns
	}
	for _, e := range entries {
		e.Namespace = namespace
		e.Metadata = copyMetadata(e.Metadata)
		e.Vector.Values = append([]float32(nil), e.Vector.Values...)
		ns[e.ID] = e
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, namespace string, vector models.Vector, topK int) ([]models.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.namespaces[namespace]
	matches := make([]models.Match, 0, len(ns))
	for _, e := range ns {
		if !e.Vector.Comparable(vector) {
			continue
		}
		matches = append(matches, models.Match{Entry: e, Score: ranker.Cosine(e.Vector.Values, vector.Values)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) ListNamespaces(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.namespaces))
	for name, ns := range m.namespaces {
		if len(ns) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) DeleteNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func copyMetadata(md map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
