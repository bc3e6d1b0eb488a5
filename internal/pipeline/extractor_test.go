package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/pdfxtract/internal/apierr"
	"github.com/allaspectsdev/pdfxtract/internal/cache"
	"github.com/allaspectsdev/pdfxtract/internal/llmclient"
	"github.com/allaspectsdev/pdfxtract/internal/pattern"
	"github.com/allaspectsdev/pdfxtract/internal/schema"
	"github.com/allaspectsdev/pdfxtract/internal/structmatch"
	"github.com/allaspectsdev/pdfxtract/internal/template"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
)

// mockStore is a minimal in-memory cache.Store, mirroring the one used in
// internal/cache's own tests.
type mockStore struct {
	full   map[string]*cache.Result
	fields map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{full: make(map[string]*cache.Result), fields: make(map[string]string)}
}

func (m *mockStore) GetFullResult(key string) (*cache.Result, bool, error) {
	r, ok := m.full[key]
	return r, ok, nil
}

func (m *mockStore) SetFullResult(key, label string, result *cache.Result) error {
	m.full[key] = result
	return nil
}

func (m *mockStore) GetFieldValue(key string) (string, bool, error) {
	v, ok := m.fields[key]
	return v, ok, nil
}

func (m *mockStore) SetFieldValue(key, label, fieldName, value string) error {
	m.fields[key] = value
	return nil
}

// fakeTokeniser returns a fixed token stream regardless of the PDF bytes
// staged to disk, so tests can drive the state machine without a real
// PDF-parsing binary.
type fakeTokeniser struct {
	tokens []tokeniser.PositionedToken
}

func (f *fakeTokeniser) Tokenise(ctx context.Context, pdfPath string) ([]tokeniser.PositionedToken, error) {
	return f.tokens, nil
}

func sampleTokens() []tokeniser.PositionedToken {
	return []tokeniser.PositionedToken{
		{Text: "Nome:", Page: 1, X: 100, Y: 200, PageWidth: 612, PageHeight: 792},
		{Text: "JOANA SILVA", Page: 1, X: 200, Y: 200, PageWidth: 612, PageHeight: 792},
		{Text: "CPF:", Page: 1, X: 100, Y: 250, PageWidth: 612, PageHeight: 792},
		{Text: "123.456.789-00", Page: 1, X: 200, Y: 250, PageWidth: 612, PageHeight: 792},
	}
}

func newTestOrchestrator(t *testing.T) *template.Orchestrator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.db")
	store, err := template.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	matcher := structmatch.New(structmatch.KnownLabels)
	builder := pattern.New()
	return template.NewOrchestrator(store, matcher, builder)
}

// llmServer builds an httptest server that answers the OpenAI-compatible
// chat-completions endpoint with a fixed field map.
func llmServer(t *testing.T, fields map[string]interface{}) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Choices []struct {
				Message struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}{}
		resp.Choices = []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		}{{Message: struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "assistant", Content: string(body)}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func mustSchema(t *testing.T, fields map[string]string) *schema.Schema {
	t.Helper()
	s, err := schema.FromMap(fields)
	require.NoError(t, err)
	return s
}

func TestExtractL2HitReturnsCachedResultWithoutLLM(t *testing.T) {
	store := newMockStore()
	mgr, err := cache.NewManager(store, 0)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	pdfBytes := []byte("%PDF-1.4 fake")
	require.NoError(t, mgr.Set(pdfBytes, "oab", s, map[string]schema.FieldValue{
		"nome": schema.StringValue("JOANA SILVA"),
	}, map[string]interface{}{}))

	ex := New(mgr, &fakeTokeniser{tokens: sampleTokens()}, newTestOrchestrator(t), nil)

	result, err := ex.Extract(context.Background(), &Request{PDFBytes: pdfBytes, Label: "oab", Schema: s})
	require.NoError(t, err)
	assert.Equal(t, "cache-l2", result.Method)
	assert.Equal(t, []string{"cache-l2"}, result.Steps)
	v, ok := result.Data["nome"].String()
	require.True(t, ok)
	assert.Equal(t, "JOANA SILVA", v)
}

func TestExtractMissFallsBackToLLMAndLearns(t *testing.T) {
	mgr, err := cache.NewManager(newMockStore(), 0)
	require.NoError(t, err)

	server := llmServer(t, map[string]interface{}{"nome": "JOANA SILVA", "cpf": "123.456.789-00"})
	defer server.Close()
	llm := llmclient.New(server.URL, "test-model", "test-key")

	orch := newTestOrchestrator(t)
	ex := New(mgr, &fakeTokeniser{tokens: sampleTokens()}, orch, llm)

	s := mustSchema(t, map[string]string{"nome": "full name", "cpf": "tax id"})
	result, err := ex.Extract(context.Background(), &Request{PDFBytes: []byte("%PDF-1"), Label: "oab", Schema: s})
	require.NoError(t, err)
	assert.Equal(t, "llm-full", result.Method)
	assert.Equal(t, []string{"llm-full"}, result.Steps)

	v, ok := result.Data["cpf"].String()
	require.True(t, ok)
	assert.Equal(t, "123.456.789-00", v)

	// Repeating the identical request now serves from Tier-1/Tier-2.
	result2, err := ex.Extract(context.Background(), &Request{PDFBytes: []byte("%PDF-1"), Label: "oab", Schema: s})
	require.NoError(t, err)
	assert.Equal(t, "cache-l2", result2.Method)
}

func TestExtractL3PartialMergesCacheAndLLM(t *testing.T) {
	store := newMockStore()
	mgr, err := cache.NewManager(store, 0)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	pdfBytes := []byte("%PDF-partial")
	require.NoError(t, mgr.Set(pdfBytes, "oab", s, map[string]schema.FieldValue{
		"nome": schema.StringValue("JOANA SILVA"),
	}, map[string]interface{}{}))
	mgr2, err := cache.NewManager(store, 0) // fresh Tier-1, forcing the Tier-3 scan
	require.NoError(t, err)

	server := llmServer(t, map[string]interface{}{"endereco": "RUA A, 123"})
	defer server.Close()
	llm := llmclient.New(server.URL, "test-model", "test-key")

	orch := newTestOrchestrator(t)
	ex := New(mgr2, &fakeTokeniser{tokens: sampleTokens()}, orch, llm)

	wideSchema := mustSchema(t, map[string]string{"nome": "full name", "endereco": "address"})
	result, err := ex.Extract(context.Background(), &Request{PDFBytes: pdfBytes, Label: "oab", Schema: wideSchema})
	require.NoError(t, err)
	assert.Equal(t, []string{"cache-l3", "llm-fallback"}, result.Steps)

	nome, ok := result.Data["nome"].String()
	require.True(t, ok)
	assert.Equal(t, "JOANA SILVA", nome)

	endereco, ok := result.Data["endereco"].String()
	require.True(t, ok)
	assert.Equal(t, "RUA A, 123", endereco)
}

func TestExtractTemplateResolvesMatureFieldsWithoutLLM(t *testing.T) {
	mgr, err := cache.NewManager(newMockStore(), 0)
	require.NoError(t, err)

	orch := newTestOrchestrator(t)
	tokens := sampleTokens()
	s := mustSchema(t, map[string]string{"nome": "full name", "cpf": "tax id"})
	llmData := map[string]schema.FieldValue{
		"nome": schema.StringValue("JOANA SILVA"),
		"cpf":  schema.StringValue("123.456.789-00"),
	}
	// Learn twice to cross MatureThreshold before the extraction under test.
	require.NoError(t, orch.Learn("oab", s, llmData, tokens))
	require.NoError(t, orch.Learn("oab", s, llmData, tokens))

	ex := New(mgr, &fakeTokeniser{tokens: tokens}, orch, nil)

	result, err := ex.Extract(context.Background(), &Request{PDFBytes: []byte("%PDF-oab"), Label: "oab", Schema: s})
	require.NoError(t, err)
	assert.Equal(t, []string{"template"}, result.Steps)

	cpf, ok := result.Data["cpf"].String()
	require.True(t, ok)
	assert.Equal(t, "123.456.789-00", cpf)
}

func TestExtractUnparseableLLMResponseRecoversToNullsWithoutLearning(t *testing.T) {
	mgr, err := cache.NewManager(newMockStore(), 0)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Choices []struct {
				Message struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}{}
		resp.Choices = []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		}{{Message: struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "assistant", Content: "no JSON object in sight"}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()
	llm := llmclient.New(server.URL, "test-model", "test-key")

	orch := newTestOrchestrator(t)
	ex := New(mgr, &fakeTokeniser{tokens: sampleTokens()}, orch, llm)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	result, err := ex.Extract(context.Background(), &Request{PDFBytes: []byte("%PDF-x"), Label: "oab", Schema: s})
	require.NoError(t, err)
	assert.True(t, result.Data["nome"].IsNull())

	tpl, err := orch.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 0, tpl.Rules, "no rule must be learned from an unparseable LLM response")
}

func TestExtractFailClosedOnUnparseableLLMSurfacesError(t *testing.T) {
	mgr, err := cache.NewManager(newMockStore(), 0)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Choices []struct {
				Message struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}{}
		resp.Choices = []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		}{{Message: struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "assistant", Content: "no JSON object in sight"}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()
	llm := llmclient.New(server.URL, "test-model", "test-key")

	orch := newTestOrchestrator(t)
	ex := New(mgr, &fakeTokeniser{tokens: sampleTokens()}, orch, llm)
	ex.SetFailClosedOnUnparseableLLM(true)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	_, err = ex.Extract(context.Background(), &Request{PDFBytes: []byte("%PDF-x"), Label: "oab", Schema: s})
	require.Error(t, err)

	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierr.KindUpstreamFailure, apiErr.Kind)
}

func TestExtractTracksMethodCounts(t *testing.T) {
	store := newMockStore()
	mgr, err := cache.NewManager(store, 0)
	require.NoError(t, err)

	s := mustSchema(t, map[string]string{"nome": "full name"})
	pdfBytes := []byte("%PDF-stats")
	require.NoError(t, mgr.Set(pdfBytes, "oab", s, map[string]schema.FieldValue{
		"nome": schema.StringValue("JOANA SILVA"),
	}, map[string]interface{}{}))

	ex := New(mgr, &fakeTokeniser{tokens: sampleTokens()}, newTestOrchestrator(t), nil)
	_, err = ex.Extract(context.Background(), &Request{PDFBytes: pdfBytes, Label: "oab", Schema: s})
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), &Request{PDFBytes: pdfBytes, Label: "oab", Schema: s})
	require.NoError(t, err)

	stats := ex.Stats()
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 2, stats.Methods["cache-l2"])
}
