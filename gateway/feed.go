package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Tables that emit change events.
const (
	TableAbsences    = "absences"
	TableTeachers    = "teachers"
	TableDepartments = "departments"
	TableSubstitutes = "substitutes"
	TableLeaves      = "leaves"
)

// Change operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
	OpReload = "RELOAD"
)

// Change is a row-level notification emitted after a successful write.
type Change struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	ID    string    `json:"id,omitempty"`
	At    time.Time `json:"at"`
}

// Feed is a publish/subscribe channel of row changes, one topic per table.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	// Subscribe delivers changes for table until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, table string) (<-chan Change, error)
}

const subscriberBuffer = 64

// LocalFeed fans changes out to subscribers inside this process.
type LocalFeed struct {
	mu   sync.RWMutex
	subs map[string]map[chan Change]struct{}
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[string]map[chan Change]struct{})}
}

func (f *LocalFeed) Publish(_ context.Context, change Change) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs[change.Table] {
		select {
		case ch <- change:
		default:
			logrus.WithFields(logrus.Fields{"table": change.Table, "id": change.ID}).
				Warn("change feed subscriber is full, dropping event")
		}
	}
	return nil
}

func (f *LocalFeed) Subscribe(ctx context.Context, table string) (<-chan Change, error) {
	ch := make(chan Change, subscriberBuffer)

	f.mu.Lock()
	if f.subs[table] == nil {
		f.subs[table] = make(map[chan Change]struct{})
	}
	f.subs[table][ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs[table], ch)
		f.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// RedisFeed carries changes over Redis pub/sub so every replica sees them.
type RedisFeed struct {
	client *redis.Client
	prefix string
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client, prefix: "changes:"}
}

func (f *RedisFeed) channel(table string) string {
	return f.prefix + table
}

func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return f.client.Publish(ctx, f.channel(change.Table), payload).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, table string) (<-chan Change, error) {
	pubsub := f.client.Subscribe(ctx, f.channel(table))
	// Wait for the subscription confirmation so early publishes are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					logrus.WithError(err).WithField("channel", msg.Channel).Warn("discarding malformed change event")
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
