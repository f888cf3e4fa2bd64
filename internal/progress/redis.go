package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/model"
)

// RedisBroker fans events out through Redis pub/sub so subscribers in other
// worker processes receive them too. One Redis channel per analysis.
type RedisBroker struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisBroker connects to Redis and verifies it with a ping.
func NewRedisBroker(addr, channel string) (*RedisBroker, error) {
	if channel == "" {
		channel = "clauselens.progress"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "progress: redis ping")
	}

	return &RedisBroker{rdb: rdb, channel: channel}, nil
}

func (b *RedisBroker) topic(analysisID string) string {
	return b.channel + "." + analysisID
}

func (b *RedisBroker) Publish(ctx context.Context, ev model.ProgressEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "progress: marshal event")
	}
	return eris.Wrap(b.rdb.Publish(ctx, b.topic(ev.AnalysisID), raw).Err(), "progress: redis publish")
}

func (b *RedisBroker) Subscribe(analysisID string) (<-chan model.ProgressEvent, func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	sub := b.rdb.Subscribe(ctx, b.topic(analysisID))
	out := make(chan model.ProgressEvent, subscriberBuffer)

	go func() {
		defer close(out)
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
				var ev model.ProgressEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					zap.L().Warn("progress: bad redis payload", zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(cancelCtx)
	}
	return out, cancel
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
