package lanes

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/utils"
)

// Lane names shared by every caller that touches an external provider.
const (
	LLM                 = "llm"
	Embed               = "embed"
	SourceBibliographic = "source_bibliographic"
	SourceFulltext      = "source_fulltext"
)

type Config struct {
	MaxConcurrent int
	MinSpacing    time.Duration
}

// Limiter gates admission per named lane: at most MaxConcurrent callers run
// at once and admitted starts are at least MinSpacing apart. Waiters are
// admitted in FIFO order; cancellation is the caller's context.
type Limiter struct {
	log   *logger.Logger
	mu    sync.RWMutex
	lanes map[string]*lane
}

type lane struct {
	sem        *semaphore.Weighted
	minSpacing time.Duration

	mu        sync.Mutex
	nextStart time.Time
}

func New(log *logger.Logger, configs map[string]Config) *Limiter {
	l := &Limiter{log: log, lanes: map[string]*lane{}}
	for name, cfg := range configs {
		maxConc := cfg.MaxConcurrent
		if maxConc <= 0 {
			maxConc = 1
		}
		l.lanes[name] = &lane{
			sem:        semaphore.NewWeighted(int64(maxConc)),
			minSpacing: cfg.MinSpacing,
		}
	}
	return l
}

// FromEnv builds the process-global lane set with the standard defaults.
func FromEnv(log *logger.Logger) *Limiter {
	return New(log, map[string]Config{
		LLM: {
			MaxConcurrent: utils.GetEnvAsInt("LLM_CONCURRENCY", 2, log),
		},
		Embed: {
			MaxConcurrent: utils.GetEnvAsInt("EMBED_CONCURRENCY", 4, log),
		},
		SourceBibliographic: {
			MaxConcurrent: utils.GetEnvAsInt("SOURCE_BIBLIO_CONCURRENCY", 1, log),
			MinSpacing:    time.Duration(utils.GetEnvAsInt("SOURCE_BIBLIO_SPACING_MS", 1000, log)) * time.Millisecond,
		},
		SourceFulltext: {
			MaxConcurrent: utils.GetEnvAsInt("SOURCE_FULLTEXT_CONCURRENCY", 3, log),
		},
	})
}

// Limit runs fn once the named lane admits it. An unknown lane runs fn
// immediately so a misconfigured name degrades to unlimited rather than
// deadlocking.
func (l *Limiter) Limit(ctx context.Context, name string, fn func(context.Context) error) error {
	ln := l.lane(name)
	if ln == nil {
		if l.log != nil {
			l.log.Warn("unknown lane, running without limits", "lane", name)
		}
		return fn(ctx)
	}
	if err := ln.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer ln.sem.Release(1)

	if ln.minSpacing > 0 {
		ln.mu.Lock()
		now := time.Now()
		start := ln.nextStart
		if start.Before(now) {
			start = now
		}
		ln.nextStart = start.Add(ln.minSpacing)
		ln.mu.Unlock()
		if wait := time.Until(start); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return fn(ctx)
}

func (l *Limiter) lane(name string) *lane {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lanes[name]
}
