package llm

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/codes"
)

const CacheSchema = `
create table if not exists llm_cache (
	key text primary key,
	prompt text not null,
	response text not null,
	reasoning text not null default '',
	model text not null,
	created_at integer not null
);
`

func Key(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

type CacheStats struct {
	Memory     int
	Persistent int
	Hits       int64
	Misses     int64
}

// Cache stores completions by prompt hash in memory and, when a
// database is given, in the llm_cache table so results survive restarts.
type Cache struct {
	memory *expirable.LRU[string, Completion]
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache, db may be nil. A ttl of 0 keeps entries
// forever.
func NewCache(db *sql.DB, size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = 256
	}
	if db != nil {
		_, err := db.Exec(CacheSchema)
		if err != nil {
			return nil, err
		}
	}
	return &Cache{
		memory: expirable.NewLRU[string, Completion](size, nil, ttl),
		db:     db,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (c *Cache) Get(ctx context.Context, prompt string) (Completion, bool) {
	key := Key(prompt)
	completion, ok := c.memory.Get(key)
	if ok {
		c.hits.Add(1)
		return completion, true
	}
	if c.db == nil {
		c.misses.Add(1)
		return Completion{}, false
	}

	var createdAt int64
	row := c.db.QueryRowContext(ctx, "select response, reasoning, model, created_at from llm_cache where key = ?", key)
	err := row.Scan(&completion.Content, &completion.Reasoning, &completion.Model, &createdAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.WarnContext(ctx, "failed to read llm cache", "key", key, "err", err)
		}
		c.misses.Add(1)
		return Completion{}, false
	}
	if c.ttl > 0 && c.now().Sub(time.Unix(createdAt, 0)) > c.ttl {
		c.misses.Add(1)
		return Completion{}, false
	}

	c.memory.Add(key, completion)
	c.hits.Add(1)
	return completion, true
}

func (c *Cache) Put(ctx context.Context, prompt string, completion Completion) error {
	key := Key(prompt)
	c.memory.Add(key, completion)
	if c.db == nil {
		return nil
	}
	_, err := c.db.ExecContext(
		ctx,
		`insert into llm_cache(key, prompt, response, reasoning, model, created_at) values (?, ?, ?, ?, ?, ?)
		on conflict(key) do update set
			response = excluded.response,
			reasoning = excluded.reasoning,
			model = excluded.model,
			created_at = excluded.created_at`,
		key, prompt, completion.Content, completion.Reasoning, completion.Model, c.now().Unix(),
	)
	return err
}

func (c *Cache) Clear(ctx context.Context) error {
	c.memory.Purge()
	if c.db == nil {
		return nil
	}
	_, err := c.db.ExecContext(ctx, "delete from llm_cache")
	return err
}

func (c *Cache) Stats(ctx context.Context) (CacheStats, error) {
	stats := CacheStats{
		Memory: c.memory.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if c.db == nil {
		return stats, nil
	}
	err := c.db.QueryRowContext(ctx, "select count(*) from llm_cache").Scan(&stats.Persistent)
	return stats, err
}

// CachedProvider answers repeated prompts from a cache. Only responses
// that contain a json object are cached, so a malformed answer is asked
// again next time.
type CachedProvider struct {
	provider Provider
	cache    *Cache
}

func NewCachedProvider(provider Provider, cache *Cache) CachedProvider {
	return CachedProvider{provider: provider, cache: cache}
}

func (p CachedProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	ctx, span := tracer.Start(ctx, "CachedProvider.Complete")
	defer span.End()

	completion, ok := p.cache.Get(ctx, prompt)
	if ok {
		slog.DebugContext(ctx, "llm cache hit", "key", Key(prompt)[:10])
		cacheHitCounter.Add(ctx, 1)
		return completion, nil
	}

	completion, err := p.provider.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failed")
		return Completion{}, err
	}
	_, err = ExtractJSON(completion.Content)
	if err != nil {
		return completion, nil
	}
	err = p.cache.Put(ctx, prompt, completion)
	if err != nil {
		slog.WarnContext(ctx, "failed to store llm response in cache", "err", err)
	}
	return completion, nil
}
