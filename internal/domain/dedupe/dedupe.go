// Package dedupe tracks upload keys so that the same video is analyzed once.
package dedupe

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Deduper maps upload keys to the job that owns them.
type Deduper interface {
	// SeenOrRecord atomically checks if key was seen. If so it returns the
	// recorded job id and true; otherwise it records jobID and returns false.
	SeenOrRecord(ctx context.Context, key, jobID string) (string, bool)

	// Unrecord forgets key so a later upload can retry, e.g. after the
	// queue rejected the job.
	Unrecord(ctx context.Context, key string)

	Size() int
}

// Key derives the dedupe key for an upload: the client request id when
// present, otherwise the SHA-256 of the media.
func Key(requestID string, media []byte) string {
	if id := strings.TrimSpace(requestID); id != "" {
		return "req:" + id
	}
	sum := sha256.Sum256(media)
	return "sha256:" + hex.EncodeToString(sum[:])
}

type entry struct {
	key   string
	jobID string
}

// inMemoryDeduper evicts the oldest key once maxSize is reached.
// maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front = newest
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 1024,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenOrRecord(_ context.Context, key, jobID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		return el.Value.(*entry).jobID, true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[key] = d.order.PushFront(&entry{key: key, jobID: jobID})
	return jobID, false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[key]; ok {
		d.order.Remove(el)
		delete(d.seen, key)
	}
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	el := d.order.Back()
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.seen, el.Value.(*entry).key)
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
