package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/miyah/internal/model"
)

const (
	// DefaultBucket is the JetStream key-value bucket used by KVRelay.
	DefaultBucket = "miyah_mesh"
	// DefaultKey is the single key every KVRelay endpoint writes and watches.
	DefaultKey = "packet"
)

// KVRelay is a Transport that relays frames through one key of a JetStream
// key-value bucket. Publishing is a Put on the key; every endpoint watches the
// key for updates, the way browser tabs observe storage events on a shared
// key. The publisher observes its own writes.
type KVRelay struct {
	endpoint
	js     jetstream.JetStream
	bucket string
	key    string

	mu      sync.Mutex
	kv      jetstream.KeyValue
	watcher jetstream.KeyWatcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Transport = (*KVRelay)(nil)

// NewKVRelay returns a stopped relay on bucket/key.
func NewKVRelay(js jetstream.JetStream, bucket, key string, opts ...Option) *KVRelay {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if key == "" {
		key = DefaultKey
	}
	return &KVRelay{
		endpoint: newEndpoint("kv", buildOptions(opts)),
		js:       js,
		bucket:   bucket,
		key:      key,
	}
}

func (r *KVRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		return nil
	}

	kv, err := r.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      r.bucket,
		Description: "miyah mesh relay",
		History:     1,
	})
	if err != nil {
		return fmt.Errorf("opening bucket %s: %w", r.bucket, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	// UpdatesOnly: the last stored frame is history, not a new delivery.
	watcher, err := kv.Watch(watchCtx, r.key, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return fmt.Errorf("watching %s/%s: %w", r.bucket, r.key, err)
	}

	r.kv = kv
	r.watcher = watcher
	r.cancel = cancel
	r.wg.Add(1)
	go r.watch(watchCtx, watcher)
	return nil
}

func (r *KVRelay) watch(ctx context.Context, w jetstream.KeyWatcher) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.Updates():
			if !ok {
				return
			}
			// nil marks the end of initial values; deletes and purges carry no frame.
			if entry == nil || entry.Operation() != jetstream.KeyValuePut {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			r.dispatch(entry.Value())
		}
	}
}

func (r *KVRelay) Stop() error {
	r.mu.Lock()
	w := r.watcher
	cancel := r.cancel
	r.watcher = nil
	r.cancel = nil
	r.kv = nil
	r.mu.Unlock()

	if w == nil {
		return nil
	}
	cancel()
	// The watcher may already be closed by the cancelled context.
	_ = w.Stop()
	r.wg.Wait()
	return nil
}

func (r *KVRelay) Publish(ctx context.Context, env model.Envelope) error {
	r.mu.Lock()
	kv := r.kv
	r.mu.Unlock()
	if kv == nil {
		return nil
	}
	data, err := r.encode(env)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, r.key, data); err != nil {
		return fmt.Errorf("putting %s/%s: %w", r.bucket, r.key, err)
	}
	return nil
}
