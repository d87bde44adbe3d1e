package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"groupsync/lib/sqliteutil"

	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	raw, err := ExtractJSON("好的，结果如下：\n```json\n{\"matches\": [{\"a\": 1}]}\n```\n以上。")
	require.NoError(t, err)
	require.Equal(t, `{"matches": [{"a": 1}]}`, raw)

	_, err = ExtractJSON("没有找到")
	require.ErrorIs(t, err, ErrNoJSON)

	type result struct {
		Matches []map[string]int `json:"matches"`
	}
	decoded, err := DecodeJSON[result]("```{\"matches\":[{\"a\":2}]}```")
	require.NoError(t, err)
	require.Equal(t, 2, decoded.Matches[0]["a"])

	_, err = DecodeJSON[result]("{not json}")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoJSON)
}

type countingProvider struct {
	mutex    sync.Mutex
	calls    int
	response string
	err      error
}

func (p *countingProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.calls++
	if p.err != nil {
		return Completion{}, p.err
	}
	return Completion{Content: p.response, Model: "counting"}, nil
}

func TestCachedProvider(t *testing.T) {
	db, err := sqliteutil.OpenDB(CacheSchema, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	cache, err := NewCache(db, 8, time.Hour)
	require.NoError(t, err)
	inner := &countingProvider{response: `{"ok": true}`}
	provider := NewCachedProvider(inner, cache)
	ctx := context.Background()

	for range 3 {
		completion, err := provider.Complete(ctx, "prompt")
		require.NoError(t, err)
		require.Equal(t, `{"ok": true}`, completion.Content)
	}
	require.Equal(t, 1, inner.calls)

	// the persistent tier answers after the memory tier is gone
	fresh, err := NewCache(db, 8, time.Hour)
	require.NoError(t, err)
	completion, ok := fresh.Get(ctx, "prompt")
	require.True(t, ok)
	require.Equal(t, "counting", completion.Model)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Memory)
	require.Equal(t, 1, stats.Persistent)
	require.Equal(t, int64(2), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)

	require.NoError(t, cache.Clear(ctx))
	stats, err = cache.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Memory)
	require.Equal(t, 0, stats.Persistent)
}

func TestCachedProviderSkipsNonJSON(t *testing.T) {
	cache, err := NewCache(nil, 8, 0)
	require.NoError(t, err)
	inner := &countingProvider{response: "sorry"}
	provider := NewCachedProvider(inner, cache)

	for range 2 {
		completion, err := provider.Complete(context.Background(), "prompt")
		require.NoError(t, err)
		require.Equal(t, "sorry", completion.Content)
	}
	require.Equal(t, 2, inner.calls)

	inner.err = errors.New("boom")
	_, err = provider.Complete(context.Background(), "other")
	require.Error(t, err)
}

func TestCacheExpiry(t *testing.T) {
	db, err := sqliteutil.OpenDB(CacheSchema, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	cache, err := NewCache(db, 8, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, "p", Completion{Content: "{}"}))

	later, err := NewCache(db, 8, time.Hour)
	require.NoError(t, err)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok := later.Get(ctx, "p")
	require.False(t, ok)
}

func TestKey(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Key(""))
	require.NotEqual(t, Key("a"), Key("b"))
}

const sseChunk = `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"deepseek-test","choices":[{"index":0,"delta":%s}]}`

func writeSSE(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("content-type", "text/event-stream")
	for _, delta := range deltas {
		fmt.Fprintf(w, "data: "+sseChunk+"\n\n", delta)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIProviderStreams(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("authorization"))
		if requests == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		writeSSE(w,
			`{"role":"assistant","reasoning_content":"先比较价格"}`,
			`{"reasoning_content":"，再比较名称"}`,
			`{"content":"{\"matches\":"}`,
			`{"content":"[]}"}`,
		)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIOptions{
		BaseUrl:      server.URL,
		ApiKey:       "key",
		Model:        "deepseek-test",
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	completion, err := provider.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, `{"matches":[]}`, completion.Content)
	require.Equal(t, "先比较价格，再比较名称", completion.Reasoning)
	require.Equal(t, "deepseek-test", completion.Model)
	require.Equal(t, 2, requests)
}

func TestOpenAIProviderRetriesEmptyStream(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			writeSSE(w, `{"role":"assistant","content":""}`)
			return
		}
		writeSSE(w, `{"content":"{\"matches\":[]}"}`)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIOptions{BaseUrl: server.URL, ApiKey: "key", MaxRetries: 1, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	completion, err := provider.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, `{"matches":[]}`, completion.Content)
	require.Equal(t, 2, requests)
}

func TestOpenAIProviderGivesUp(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if strings.Contains(r.Header.Get("authorization"), "bad") {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid key"}}`))
			return
		}
		writeSSE(w, `{"content":""}`)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIOptions{BaseUrl: server.URL, ApiKey: "bad", MaxRetries: 3, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	_, err = provider.Complete(context.Background(), "prompt")
	require.Error(t, err)
	require.Equal(t, 1, requests)

	provider, err = NewOpenAIProvider(OpenAIOptions{BaseUrl: server.URL, ApiKey: "good", RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	_, err = provider.Complete(context.Background(), "prompt")
	require.ErrorIs(t, err, ErrEmptyResponse)

	_, err = NewOpenAIProvider(OpenAIOptions{})
	require.ErrorIs(t, err, ErrMissingApiKey)
}

func TestRateLimited(t *testing.T) {
	inner := &countingProvider{response: "{}"}
	require.Equal(t, Provider(inner), RateLimited(inner, 0))

	provider := RateLimited(inner, 60)
	_, err := provider.Complete(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = provider.Complete(ctx, "b")
	require.Error(t, err)
	require.Equal(t, 1, inner.calls)
}

func TestConfig(t *testing.T) {
	require.NoError(t, Config{}.Validate())
	require.ErrorIs(t, Config{Provider: ProviderOpenAI}.Validate(), ErrMissingApiKey)
	require.Error(t, Config{Provider: "claude", ApiKey: "k"}.Validate())

	config := Config{Provider: ProviderOpenAI, ApiKey: "k"}.WithDefaults()
	require.Equal(t, 60, config.TimeoutSeconds)
	require.Equal(t, 7*24*time.Hour, config.CacheTTL())

	provider, err := New(context.Background(), Config{Provider: ProviderOpenAI, ApiKey: "k"}, nil)
	require.NoError(t, err)
	require.NotNil(t, provider)
}
