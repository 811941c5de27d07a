// Package geocode resolves city names to coordinates through an HTTP
// geocoding service, caching answers in Redis.
package geocode

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"donor-matching/internal/common/config"
	"donor-matching/internal/common/errors"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
)

// Client implements ranker.Geocoder.
type Client struct {
	http     *resty.Client
	redis    *redis.Client
	apiKey   string
	cacheTTL time.Duration
	logger   logger.Logger
}

type geocodeResponse struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// New builds a client against cfg.BaseURL. rdb may be nil to disable caching.
func New(cfg config.GeocodingConfig, rdb *redis.Client, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(config.GetDuration(cfg.Timeout)).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		http:     httpClient,
		redis:    rdb,
		apiKey:   cfg.APIKey,
		cacheTTL: config.GetDuration(cfg.CacheTTL),
		logger:   log.Named("geocode"),
	}
}

func cacheKey(city string) string {
	return "geocode:" + strings.ToLower(strings.TrimSpace(city))
}

// Resolve returns known coordinates as-is, otherwise looks the city up.
// A city the service does not know yields (nil, nil).
func (c *Client) Resolve(ctx context.Context, loc models.Location) (*models.Coord, error) {
	if loc.Coordinates != nil {
		return loc.Coordinates, nil
	}
	city := strings.TrimSpace(loc.City)
	if city == "" {
		return nil, nil
	}

	if coord := c.cached(ctx, city); coord != nil {
		return coord, nil
	}

	var body geocodeResponse
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("city", city).
		SetResult(&body)
	if c.apiKey != "" {
		req.SetQueryParam("key", c.apiKey)
	}

	resp, err := req.Get("/geocode")
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewLookupTimeoutError("geocode", err)
		}
		return nil, fmt.Errorf("geocode %q: %w", city, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, nil
	case resp.IsError():
		return nil, fmt.Errorf("geocode %q: status %d", city, resp.StatusCode())
	}

	coord := &models.Coord{Lat: body.Lat, Lon: body.Lon}
	c.store(ctx, city, coord)
	return coord, nil
}

func (c *Client) cached(ctx context.Context, city string) *models.Coord {
	if c.redis == nil {
		return nil
	}
	val, err := c.redis.Get(ctx, cacheKey(city)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("geocode cache read failed", map[string]interface{}{"city": city, "error": err})
		}
		return nil
	}
	var coord models.Coord
	if err := json.Unmarshal([]byte(val), &coord); err != nil {
		return nil
	}
	return &coord
}

func (c *Client) store(ctx context.Context, city string, coord *models.Coord) {
	if c.redis == nil {
		return
	}
	data, _ := json.Marshal(coord)
	if err := c.redis.Set(ctx, cacheKey(city), data, c.cacheTTL).Err(); err != nil {
		c.logger.Warn("geocode cache write failed", map[string]interface{}{"city": city, "error": err})
	}
}
