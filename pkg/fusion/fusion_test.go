package fusion_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tutor/internal/fakes"
	"github.com/xhad/tutor/internal/metrics"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/fusion"
	"github.com/xhad/tutor/pkg/index"
	"github.com/xhad/tutor/pkg/llm"
	"github.com/xhad/tutor/pkg/ranker"
	"github.com/xhad/tutor/pkg/store"
)

var vocab = []string{"limit", "deriv", "rate", "integr", "area"}

const derivativeSummary = "The derivative measures rate of change of a function."

func corpus() []models.CorpusItem {
	return []models.CorpusItem{
		{ID: "1", Title: "Intro to Limits", Summary: "Limits formalize the idea of approaching a value."},
		{ID: "2", Title: "Derivatives", Summary: derivativeSummary},
	}
}

func history() []models.Turn {
	var h models.History
	h.Append(models.RoleUser, "hi, I am studying calculus")
	h.Append(models.RoleAssistant, "Great, what would you like to know?")
	return h.Turns()
}

type fixture struct {
	emb     *fakes.KeywordEmbedder
	backend *fakes.Backend
	metrics *metrics.Metrics
	orch    *fusion.Orchestrator
}

func newFixture(t *testing.T, config fusion.OrchestratorConfig, corpusProvider types.CorpusProvider) *fixture {
	t.Helper()
	ctx := context.Background()
	emb := fakes.NewKeywordEmbedder(vocab...)
	mem := store.NewMemory()

	chunks := map[string]string{
		"0": "Integrals accumulate area under a curve.",
		"1": "To compute a derivative, take the limit of the difference quotient; the derivative is a rate.",
	}
	var entries []models.Entry
	for id, text := range chunks {
		v, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		entries = append(entries, models.Entry{ID: id, Vector: v, Metadata: map[string]interface{}{
			"text":   text,
			"source": "Calculus notes",
		}})
	}
	require.NoError(t, mem.Upsert(ctx, "calculus", entries))

	backend := &fakes.Backend{VectorBackend: mem}
	idx, err := index.NewWithConfig(backend, index.IndexConfig{})
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	config.Metrics = m
	orch, err := fusion.NewWithConfig(emb, idx, ranker.New(emb, nil), corpusProvider, config)
	require.NoError(t, err)

	return &fixture{emb: emb, backend: backend, metrics: m, orch: orch}
}

func TestComposePrompt_Derivatives(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, nil)
	query := "how do I compute a derivative"

	res, err := f.orch.ComposePrompt(context.Background(), fusion.Request{
		History:    history(),
		Query:      query,
		Corpus:     corpus(),
		DeepSearch: true,
	})
	require.NoError(t, err)

	require.Len(t, res.Referenced, 1)
	assert.Equal(t, "Derivatives", res.Referenced[0].Title)
	require.NotNil(t, res.Snippet)
	assert.Equal(t, "1", res.Snippet.ID)

	p := res.Prompt
	assert.Contains(t, p, query)
	assert.Contains(t, p, derivativeSummary)
	assert.Contains(t, p, "(from Calculus notes)")
	assert.True(t, strings.HasSuffix(p, "Question: "+query))

	iHistory := strings.Index(p, "studying calculus")
	iSnippet := strings.Index(p, "difference quotient")
	iLesson := strings.Index(p, derivativeSummary)
	iQuery := strings.LastIndex(p, query)
	assert.True(t, iHistory < iSnippet && iSnippet < iLesson && iLesson < iQuery, p)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AugmentationsTotal.WithLabelValues("vector", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AugmentationsTotal.WithLabelValues("ranker", "ok")))
}

func TestComposePrompt_FullDegradation(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, nil)
	f.backend.Failing = map[string]error{"calculus": fakes.ErrUnavailable}
	query := "how do I compute a derivative"

	res, err := f.orch.ComposePrompt(context.Background(), fusion.Request{
		History:    history(),
		Query:      query,
		DeepSearch: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.Prompt)
	assert.Nil(t, res.Snippet)
	assert.Empty(t, res.Referenced)
	assert.Contains(t, res.Prompt, "User: hi, I am studying calculus")
	assert.Contains(t, res.Prompt, "Assistant: Great, what would you like to know?")
	assert.True(t, strings.HasSuffix(res.Prompt, "Question: "+query))
}

func TestComposePrompt_ScopedNamespaceFailureDegrades(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, nil)
	f.backend.Failing = map[string]error{"calculus": fakes.ErrUnavailable}

	res, err := f.orch.ComposePrompt(context.Background(), fusion.Request{
		Query:      "derivative",
		Namespace:  "calculus",
		Corpus:     corpus(),
		DeepSearch: true,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Snippet)
	require.Len(t, res.Referenced, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AugmentationsTotal.WithLabelValues("vector", "error")))
}

func TestComposePrompt_EmbedderOutageDegrades(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, nil)
	f.emb.Err = fakes.ErrUnavailable

	res, err := f.orch.ComposePrompt(context.Background(), fusion.Request{
		Query:      "derivative",
		Corpus:     corpus(),
		DeepSearch: true,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Snippet)
	assert.Empty(t, res.Referenced)
	assert.Equal(t, "Question: derivative", res.Prompt)
}

func TestComposePrompt_ConfigurationErrorIsFatal(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, nil)
	f.emb.Err = types.Configf("unknown embedding model")

	_, err := f.orch.ComposePrompt(context.Background(), fusion.Request{Query: "derivative", DeepSearch: true})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = f.orch.ComposePrompt(context.Background(), fusion.Request{Query: "   "})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestComposePrompt_WithoutDeepSearch(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, nil)
	calls := f.emb.CallCount()

	res, err := f.orch.ComposePrompt(context.Background(), fusion.Request{Query: "derivative", Corpus: corpus()})
	require.NoError(t, err)
	assert.Equal(t, calls, f.emb.CallCount())
	assert.Nil(t, res.Snippet)
	assert.Empty(t, res.Referenced)
	assert.Equal(t, "Question: derivative", res.Prompt)
}

func TestComposePrompt_Cancelled(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.ComposePrompt(ctx, fusion.Request{Query: "derivative", Corpus: corpus(), DeepSearch: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComposePrompt_BoundsHistory(t *testing.T) {
	var h models.History
	for i := 0; i < 10; i++ {
		h.Append(models.RoleUser, "question number")
		h.Append(models.RoleAssistant, "answer")
	}
	turns := h.Turns()

	f := newFixture(t, fusion.OrchestratorConfig{MaxTurns: 3}, nil)
	res, err := f.orch.ComposePrompt(context.Background(), fusion.Request{History: turns, Query: "next"})
	require.NoError(t, err)
	require.Len(t, res.History, 3)
	assert.Equal(t, 18, res.History[0].Ordinal)
	assert.Equal(t, 20, res.History[2].Ordinal)
	assert.Len(t, turns, 20)

	// "question number" costs 3 tokens and "answer" 2 with the approximate counter.
	f = newFixture(t, fusion.OrchestratorConfig{MaxHistoryTokens: 6}, nil)
	res, err = f.orch.ComposePrompt(context.Background(), fusion.Request{History: turns, Query: "next"})
	require.NoError(t, err)
	require.Len(t, res.History, 2)
	assert.Equal(t, 19, res.History[0].Ordinal)
}

type lessons map[string][]models.CorpusItem

func (l lessons) Corpus(ctx context.Context, scope string) ([]models.CorpusItem, error) {
	return l[scope], nil
}

func TestComposePrompt_LoadsCorpusForScope(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, lessons{"math-101": corpus()})

	res, err := f.orch.ComposePrompt(context.Background(), fusion.Request{
		Query:      "derivative",
		Scope:      "math-101",
		DeepSearch: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Referenced, 1)
	assert.Equal(t, "Derivatives", res.Referenced[0].Title)
}

func TestRegisterTools(t *testing.T) {
	f := newFixture(t, fusion.OrchestratorConfig{}, lessons{"math-101": corpus()})
	reg := llm.NewRegistry()
	require.NoError(t, f.orch.RegisterTools(reg))
	assert.Equal(t, 2, reg.Len())

	ctx := context.Background()
	out := reg.Execute(ctx, fusion.SearchToolName, `{"query":"derivative rate"}`)
	assert.True(t, strings.HasPrefix(out, "From Calculus notes:"), out)
	assert.Contains(t, out, "difference quotient")

	out = reg.Execute(ctx, fusion.FindLessonToolName, `{"query":"derivative","scope":"math-101"}`)
	assert.Equal(t, "Derivatives\n"+derivativeSummary, out)

	out = reg.Execute(ctx, fusion.FindLessonToolName, `{"query":"derivative","scope":"history-200"}`)
	assert.Equal(t, "No matching lesson found.", out)

	out = reg.Execute(ctx, fusion.SearchToolName, `{}`)
	assert.True(t, strings.HasPrefix(out, "Error:"), out)
}
