// Package index is the namespaced vector index used by ingest and retrieval.
// Storage is delegated to a types.VectorBackend.
package index

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xhad/tutor/internal/metrics"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"golang.org/x/sync/errgroup"
)

type IndexConfig struct {
	Concurrency      int           // parallel namespace queries in QueryAllNamespaces
	NamespaceTimeout time.Duration // per-namespace query timeout
	DefaultTopK      int
	Logger           *zerolog.Logger
	Metrics          *metrics.Metrics
}

type Index struct {
	backend types.VectorBackend
	config  IndexConfig
	log     zerolog.Logger
}

func NewWithConfig(backend types.VectorBackend, config IndexConfig) (*Index, error) {
	if backend == nil {
		return nil, types.Configf("vector backend is required")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 10
	}
	if config.NamespaceTimeout <= 0 {
		config.NamespaceTimeout = 10 * time.Second
	}
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = 1
	}

	idx := &Index{backend: backend, config: config, log: zerolog.Nop()}
	if config.Logger != nil {
		idx.log = *config.Logger
	}
	return idx, nil
}

// Upsert writes entries to namespace. Re-upserting an id overwrites it.
func (idx *Index) Upsert(ctx context.Context, namespace string, entries []models.Entry) error {
	if namespace == "" {
		return types.Configf("namespace is required")
	}
	if len(entries) == 0 {
		return nil
	}
	return idx.backend.Upsert(ctx, namespace, entries)
}

// Query returns up to topK matches from namespace by descending score.
func (idx *Index) Query(ctx context.Context, namespace string, vector models.Vector, topK int) ([]models.Match, error) {
	if namespace == "" {
		return nil, types.Configf("namespace is required")
	}
	if topK <= 0 {
		topK = idx.config.DefaultTopK
	}

	start := time.Now()
	matches, err := idx.backend.Query(ctx, namespace, vector, topK)
	idx.config.Metrics.ObserveQuery("scoped", time.Since(start).Seconds())
	return matches, err
}

func (idx *Index) ListNamespaces(ctx context.Context) ([]string, error) {
	return idx.backend.ListNamespaces(ctx)
}

func (idx *Index) DeleteNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return types.Configf("namespace is required")
	}
	return idx.backend.DeleteNamespace(ctx, namespace)
}

// QueryAllNamespaces queries every namespace in parallel and returns the
// single best match across them. Namespaces whose query fails are left out.
// The result is nil when there are no namespaces, no matches, or every
// namespace failed.
func (idx *Index) QueryAllNamespaces(ctx context.Context, vector models.Vector, topK int) (*models.Match, error) {
	if topK <= 0 {
		topK = idx.config.DefaultTopK
	}

	namespaces, err := idx.backend.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	if len(namespaces) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		idx.config.Metrics.ObserveQuery("fanout", time.Since(start).Seconds())
	}()

	var (
		mu     sync.Mutex
		best   *models.Match
		failed int
	)

	g := new(errgroup.Group)
	g.SetLimit(idx.config.Concurrency)

	for _, ns := range namespaces {
		ns := ns
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, idx.config.NamespaceTimeout)
			defer cancel()

			matches, err := idx.backend.Query(qctx, ns, vector, topK)
			idx.config.Metrics.NamespaceQuery(err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				idx.log.Warn().Err(err).Str("namespace", ns).Msg("namespace query failed")
				return nil
			}
			for i := range matches {
				if better(matches[i], best) {
					m := matches[i]
					best = &m
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if failed == len(namespaces) {
		idx.log.Warn().Int("namespaces", failed).Msg("all namespace queries failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return best, nil
}

// better orders matches by score, then namespace and id, so the reduction
// does not depend on which goroutine finishes first.
func better(m models.Match, best *models.Match) bool {
	if best == nil {
		return true
	}
	if m.Score != best.Score {
		return m.Score > best.Score
	}
	if m.Namespace != best.Namespace {
		return m.Namespace < best.Namespace
	}
	return m.ID < best.ID
}
