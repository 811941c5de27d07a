package repository

import (
	"context"
	"encoding/json"
	"time"

	"donor-matching/internal/common/logger"
	"donor-matching/internal/models"

	"github.com/redis/go-redis/v9"
)

// Source is the full read/write surface the cache decorates.
type Source interface {
	GetDonor(ctx context.Context, id string) (models.Donor, error)
	ListAvailableDonors(ctx context.Context, types ...models.BloodType) ([]models.Donor, error)
	GetHospital(ctx context.Context, id string) (models.Hospital, error)
	GetRequest(ctx context.Context, id string) (models.BloodRequest, error)
	ListOpenRequests(ctx context.Context) ([]models.BloodRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus) error
}

// CachedRepository puts a Redis cache-aside layer in front of donor and
// hospital lookups. Requests and availability lists always hit the source
// since their state drives matching. Cache failures degrade to the source.
type CachedRepository struct {
	Source
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedRepository(src Source, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedRepository {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &CachedRepository{Source: src, redis: rdb, ttl: ttl, logger: log}
}

func donorKey(id string) string    { return "donor:" + id }
func hospitalKey(id string) string { return "hospital:" + id }

func (c *CachedRepository) GetDonor(ctx context.Context, id string) (models.Donor, error) {
	var d models.Donor
	if c.lookup(ctx, donorKey(id), &d) {
		return d, nil
	}
	d, err := c.Source.GetDonor(ctx, id)
	if err != nil {
		return models.Donor{}, err
	}
	c.store(ctx, donorKey(id), d)
	return d, nil
}

func (c *CachedRepository) GetHospital(ctx context.Context, id string) (models.Hospital, error) {
	var h models.Hospital
	if c.lookup(ctx, hospitalKey(id), &h) {
		return h, nil
	}
	h, err := c.Source.GetHospital(ctx, id)
	if err != nil {
		return models.Hospital{}, err
	}
	c.store(ctx, hospitalKey(id), h)
	return h, nil
}

func (c *CachedRepository) lookup(ctx context.Context, key string, dst interface{}) bool {
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		c.logger.Warn("cache entry corrupt", map[string]interface{}{"key": key, "error": err.Error()})
		return false
	}
	return true
}

func (c *CachedRepository) store(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
}
