package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/cruisebooking/config"
	"github.com/Domenick1991/cruisebooking/internal/fusion"
	"github.com/redis/go-redis/v9"
)

// ErrMiss reports that nothing is cached under the key.
var ErrMiss = errors.New("cache miss")

// RedisCache keeps upstream read results scoped to one upstream session key.
// Entries die with the key's usefulness, so the TTL stays short.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(cfg config.RedisConfig, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		ttl:    ttl,
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) GetSearch(ctx context.Context, sessionKey, paramsHash string) (*fusion.SearchResponse, error) {
	var out fusion.SearchResponse
	if err := c.get(ctx, searchKey(sessionKey, paramsHash), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RedisCache) SetSearch(ctx context.Context, sessionKey, paramsHash string, res *fusion.SearchResponse) error {
	return c.set(ctx, searchKey(sessionKey, paramsHash), res)
}

func (c *RedisCache) GetRateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string) ([]fusion.RateCode, error) {
	var out []fusion.RateCode
	if err := c.get(ctx, rateCodesKey(sessionKey, cruiseID, resultNo), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RedisCache) SetRateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string, codes []fusion.RateCode) error {
	return c.set(ctx, rateCodesKey(sessionKey, cruiseID, resultNo), codes)
}

func (c *RedisCache) GetCabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string) ([]fusion.CabinGrade, error) {
	var out []fusion.CabinGrade
	if err := c.get(ctx, gradesKey(sessionKey, cruiseID, resultNo, fareCode), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RedisCache) SetCabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string, grades []fusion.CabinGrade) error {
	return c.set(ctx, gradesKey(sessionKey, cruiseID, resultNo, fareCode), grades)
}

func (c *RedisCache) get(ctx context.Context, key string, out interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *RedisCache) set(ctx context.Context, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

func searchKey(sessionKey, paramsHash string) string {
	return fmt.Sprintf("cache:fusion:%s:search:%s", sessionKey, paramsHash)
}

func rateCodesKey(sessionKey, cruiseID, resultNo string) string {
	return fmt.Sprintf("cache:fusion:%s:ratecodes:%s:%s", sessionKey, cruiseID, resultNo)
}

func gradesKey(sessionKey, cruiseID, resultNo, fareCode string) string {
	return fmt.Sprintf("cache:fusion:%s:grades:%s:%s:%s", sessionKey, cruiseID, resultNo, fareCode)
}
