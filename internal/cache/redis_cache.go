package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"caixapos/backend/internal/domain"
)

const heldSaleKeyPrefix = "caixapos:held-sale:"

type RedisHeldSaleStore struct {
	client *redis.Client
}

func NewRedisHeldSaleStore(addr string, password string, db int) *RedisHeldSaleStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisHeldSaleStore{client: client}
}

func (c *RedisHeldSaleStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisHeldSaleStore) Close() error {
	return c.client.Close()
}

func (c *RedisHeldSaleStore) Put(ctx context.Context, held domain.HeldSale, ttl time.Duration) error {
	if held.CreatedAt.IsZero() {
		held.CreatedAt = time.Now().UTC()
	}
	if ttl > 0 {
		held.ExpiresAt = held.CreatedAt.Add(ttl)
	}
	payload, err := json.Marshal(held)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, heldSaleKeyPrefix+held.ID, payload, ttl).Err()
}

func (c *RedisHeldSaleStore) Get(ctx context.Context, id string) (*domain.HeldSale, bool, error) {
	val, err := c.client.Get(ctx, heldSaleKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var held domain.HeldSale
	if err := json.Unmarshal(val, &held); err != nil {
		return nil, false, err
	}
	return &held, true, nil
}

func (c *RedisHeldSaleStore) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, heldSaleKeyPrefix+id).Err()
}
