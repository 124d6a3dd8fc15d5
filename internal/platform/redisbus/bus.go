package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// RunEvent is a progress notification from a pipeline run. Published as JSON
// on a single pub/sub channel; consumers fan out to whatever UI wants them.
type RunEvent struct {
	RunID   string         `json:"run_id"`
	PaperID string         `json:"paper_id,omitempty"`
	Stage   string         `json:"stage"`
	Status  string         `json:"status"`
	Detail  string         `json:"detail,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	At      time.Time      `json:"at"`
}

type Bus interface {
	Publish(ctx context.Context, ev RunEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev RunEvent)) error
	Close() error
}

type bus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewFromEnv returns (nil, nil) when REDIS_ADDR is unset: run events are
// optional and callers treat a nil bus as a no-op.
func NewFromEnv(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}
	ch := strings.TrimSpace(os.Getenv("RUN_EVENTS_CHANNEL"))
	if ch == "" {
		ch = "run_events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &bus{
		log:     log.With("service", "RedisRunEventBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *bus) Publish(ctx context.Context, ev RunEvent) error {
	if b == nil || b.rdb == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *bus) StartForwarder(ctx context.Context, onEvent func(ev RunEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("run event bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev RunEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad run event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func (b *bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// PublishSafe logs instead of failing when the bus is absent or errors.
// Pipeline stages never abort because a progress event could not be sent.
func PublishSafe(ctx context.Context, b Bus, log *logger.Logger, ev RunEvent) {
	if b == nil {
		return
	}
	if err := b.Publish(ctx, ev); err != nil && log != nil {
		log.Warn("run event publish failed", "run_id", ev.RunID, "stage", ev.Stage, "error", err)
	}
}
