package bucketing

import (
	"hash"
	"sync"
	"time"

	"webgrave/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads accounts and events over a fixed number of
// partitions so no single Scylla/ClickHouse partition grows unbounded.
type BucketingManager struct {
	accountBuckets int
	eventBuckets   int
	hasherPool     sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return newManager(cfg.Bucketing.UserBuckets, cfg.Bucketing.EventBuckets)
}

func newManager(accountBuckets, eventBuckets int) *BucketingManager {
	if accountBuckets <= 0 {
		accountBuckets = 1
	}
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	bm := &BucketingManager{
		accountBuckets: accountBuckets,
		eventBuckets:   eventBuckets,
	}
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// GetAccountBucket returns a stable bucket in [0, accountBuckets) for an account id.
func (bm *BucketingManager) GetAccountBucket(accountID string) int {
	return bm.getBucket(accountID, bm.accountBuckets)
}

// GetEventBucket returns the event partition for an identifier (account id or IP).
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetDateBucket returns the UTC day of t, used as a ClickHouse partition hint.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) AccountBuckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) EventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
