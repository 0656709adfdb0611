package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fx-signal-auditor/internal/models"
	"fx-signal-auditor/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const feedBuffer = 64

func decodeChange(payload string) (StatusChange, error) {
	var change StatusChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return StatusChange{}, fmt.Errorf("decode status change: %w", err)
	}
	return change, nil
}

func send(ctx context.Context, out chan<- StatusChange, change StatusChange) bool {
	select {
	case out <- change:
		return true
	case <-ctx.Done():
		return false
	}
}

// RedisFeed receives JSON status changes over redis pub/sub.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisFeed(client *redis.Client, channel string, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{client: client, channel: channel, logger: logger.Named("redis-feed")}
}

func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan StatusChange, error) {
	sub := f.client.Subscribe(ctx, f.channel)
	// wait for the subscription confirmation so connection errors surface here
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	out := make(chan StatusChange, feedBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				change, err := decodeChange(msg.Payload)
				if err != nil {
					f.logger.Warn("Dropping malformed status change", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				if !send(ctx, out, change) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Publish is used by the status writer side to announce a change.
func (f *RedisFeed) Publish(ctx context.Context, change StatusChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

// PGNotifyFeed LISTENs for the notifications sent by the trading_signals status trigger.
type PGNotifyFeed struct {
	dsn     string
	channel string
	logger  *zap.Logger
}

func NewPGNotifyFeed(dsn, channel string, logger *zap.Logger) *PGNotifyFeed {
	return &PGNotifyFeed{dsn: dsn, channel: channel, logger: logger.Named("pgnotify-feed")}
}

func (f *PGNotifyFeed) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", f.channel, err)
	}
	return conn, nil
}

// Subscribe opens a dedicated connection. Lost connections are re-established with backoff.
func (f *PGNotifyFeed) Subscribe(ctx context.Context) (<-chan StatusChange, error) {
	conn, err := f.listen(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan StatusChange, feedBuffer)
	go func() {
		defer close(out)
		backoff := time.Second

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				_ = conn.Close(context.Background())
				if ctx.Err() != nil {
					return
				}
				f.logger.Warn("Notification wait failed, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
				for {
					select {
					case <-ctx.Done():
						return
					case <-time.After(backoff):
					}
					if conn, err = f.listen(ctx); err == nil {
						backoff = time.Second
						break
					}
					f.logger.Warn("Reconnect failed", zap.Error(err))
					if backoff < 30*time.Second {
						backoff *= 2
					}
				}
				continue
			}

			change, err := decodeChange(n.Payload)
			if err != nil {
				f.logger.Warn("Dropping malformed notification", zap.String("payload", n.Payload), zap.Error(err))
				continue
			}
			if !send(ctx, out, change) {
				_ = conn.Close(context.Background())
				return
			}
		}
	}()
	return out, nil
}

// PollFeed polls the signal table for new expirations. It works on any database.
type PollFeed struct {
	signals  repository.SignalStore
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

const pollBatch = 500

func NewPollFeed(signals repository.SignalStore, interval time.Duration, logger *zap.Logger) *PollFeed {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PollFeed{signals: signals, interval: interval, logger: logger.Named("poll-feed"), now: time.Now}
}

// Subscribe only reports expirations that happen after the call.
func (f *PollFeed) Subscribe(ctx context.Context) (<-chan StatusChange, error) {
	if f.signals == nil {
		return nil, errors.New("poll feed has no signal store")
	}

	out := make(chan StatusChange, feedBuffer)
	go func() {
		defer close(out)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		watermark := f.now().UTC()
		seen := map[string]struct{}{}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				items, err := f.signals.ListExpiredSince(ctx, watermark, pollBatch)
				if err != nil {
					if ctx.Err() == nil {
						f.logger.Error("Polling expired signals failed", zap.Error(err))
					}
					continue
				}
				for _, s := range items {
					if _, ok := seen[s.ID]; ok {
						continue
					}
					if s.UpdatedAt.After(watermark) {
						watermark = s.UpdatedAt
						seen = map[string]struct{}{}
					}
					// ids at the watermark are re-read by the next >= query
					seen[s.ID] = struct{}{}
					if !send(ctx, out, StatusChange{
						SignalID:  s.ID,
						NewStatus: string(models.StatusExpired),
						At:        s.UpdatedAt,
					}) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}
