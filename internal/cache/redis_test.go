package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Domenick1991/cruisebooking/config"
	"github.com/stretchr/testify/assert"
)

func TestKeysAreScopedBySessionKey(t *testing.T) {
	assert.Equal(t, "cache:fusion:sk-1:search:abc", searchKey("sk-1", "abc"))
	assert.Equal(t, "cache:fusion:sk-1:ratecodes:C1:r1", rateCodesKey("sk-1", "C1", "r1"))
	assert.Equal(t, "cache:fusion:sk-1:grades:C1:r1:BEST", gradesKey("sk-1", "C1", "r1", "BEST"))
	assert.NotEqual(t, searchKey("sk-1", "abc"), searchKey("sk-2", "abc"))
}

func TestRedisCache_UnreachableServerIsAnError(t *testing.T) {
	c := NewRedisCache(config.RedisConfig{Addr: "127.0.0.1:1"}, time.Minute)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.GetRateCodes(ctx, "sk", "C1", "r1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}
