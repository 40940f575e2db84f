package queue

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomDedupGuard is a best-effort duplicate-submission filter keyed on
// (owner, content key). It is not a correctness guarantee — the
// store's unique task_id remains authoritative — only a cheap way to
// short-circuit an accidental double-click resubmission before it ever
// reaches the store.
type BloomDedupGuard struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewBloomDedupGuard sizes the filter for expectedItems entries at the
// given false-positive rate.
func NewBloomDedupGuard(expectedItems uint, falsePositiveRate float64) *BloomDedupGuard {
	return &BloomDedupGuard{filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate)}
}

func (g *BloomDedupGuard) Seen(owner, contentKey string) bool {
	key := owner + "|" + contentKey
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.filter.TestString(key) {
		return true
	}
	g.filter.AddString(key)
	return false
}
