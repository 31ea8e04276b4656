package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Silence()
	m.Run()
}

func ollamaServer(t *testing.T, answer string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Stream {
			http.Error(w, "stream not expected", http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: answer})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaExtractsConfidentEntities(t *testing.T) {
	answer := "Voici la liste :\n```json\n" + `[
		{"text":"Sophie Leroy","category":"person","confidence":0.92},
		{"text":"Clinique des Lilas","category":"organisation","confidence":0.81},
		{"text":"Lyon","category":"location","confidence":0.4},
		{"text":"Paris","category":"place","confidence":0.99}
	]` + "\n```"
	srv := ollamaServer(t, answer, http.StatusOK)

	o := NewOllama(srv.URL+"/", "qwen2.5:3b", 0.7, 5*time.Second)
	got, ok := o.TryExtract(context.Background(), "Vu par Sophie Leroy à la Clinique des Lilas de Lyon.")

	require.True(t, ok)
	assert.Equal(t, models.EntitySet{
		{Text: "Sophie Leroy", Category: models.EntityPerson, Confidence: 0.92},
		{Text: "Clinique des Lilas", Category: models.EntityOrganization, Confidence: 0.81},
	}, got, "low confidence and hallucinated entities are dropped")
}

func TestOllamaFailuresAreAbsorbed(t *testing.T) {
	cases := map[string]*httptest.Server{
		"server error": ollamaServer(t, "[]", http.StatusInternalServerError),
		"no array":     ollamaServer(t, "je ne sais pas", http.StatusOK),
		"bad array":    ollamaServer(t, `[{"text":}]`, http.StatusOK),
	}
	for name, srv := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := NewOllama(srv.URL, "m", 0.5, time.Second).TryExtract(context.Background(), "Jean")
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestOllamaUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, ok := NewOllama(url, "m", 0.5, time.Second).TryExtract(context.Background(), "Jean")
	assert.False(t, ok)
}

func TestOllamaEmptyText(t *testing.T) {
	got, ok := NewOllama("http://127.0.0.1:1", "m", 0.5, time.Second).TryExtract(context.Background(), "  ")
	assert.True(t, ok)
	assert.Empty(t, got)
}

type memoryCache struct {
	items   map[string]models.EntitySet
	failGet bool
}

func (m *memoryCache) Get(_ context.Context, key string) (models.EntitySet, error) {
	if m.failGet {
		return nil, errors.New("connection refused")
	}
	if v, ok := m.items[key]; ok {
		return v, nil
	}
	return nil, ErrCacheMiss
}

func (m *memoryCache) Set(_ context.Context, key string, entities models.EntitySet, _ time.Duration) error {
	m.items[key] = entities
	return nil
}

type countingExtractor struct {
	calls    int
	entities models.EntitySet
	ok       bool
}

func (c *countingExtractor) TryExtract(context.Context, string) (models.EntitySet, bool) {
	c.calls++
	return c.entities, c.ok
}

func TestCachedExtractorHitsCacheOnSecondCall(t *testing.T) {
	next := &countingExtractor{entities: models.EntitySet{{Text: "Lyon", Category: models.EntityPlace}}, ok: true}
	cache := &memoryCache{items: map[string]models.EntitySet{}}
	cached := NewCached(next, cache, time.Minute)

	for i := 0; i < 3; i++ {
		got, ok := cached.TryExtract(context.Background(), "à Lyon")
		require.True(t, ok)
		require.Len(t, got, 1)
	}
	assert.Equal(t, 1, next.calls)
	assert.Contains(t, cache.items, Key("à Lyon"))
}

func TestCachedExtractorDoesNotStoreFailures(t *testing.T) {
	next := &countingExtractor{ok: false}
	cache := &memoryCache{items: map[string]models.EntitySet{}}
	cached := NewCached(next, cache, time.Minute)

	_, ok := cached.TryExtract(context.Background(), "texte")
	assert.False(t, ok)
	assert.Empty(t, cache.items)
}

func TestCachedExtractorSurvivesCacheErrors(t *testing.T) {
	next := &countingExtractor{entities: models.EntitySet{}, ok: true}
	cached := NewCached(next, &memoryCache{items: map[string]models.EntitySet{}, failGet: true}, time.Minute)

	_, ok := cached.TryExtract(context.Background(), "texte")
	assert.True(t, ok)
	assert.Equal(t, 1, next.calls)
}

func TestKeyDoesNotContainText(t *testing.T) {
	key := Key("Jean Martin")
	assert.NotContains(t, key, "Jean")
	assert.Equal(t, key, Key("Jean Martin"))
	assert.NotEqual(t, key, Key("Jean Martim"))
}
