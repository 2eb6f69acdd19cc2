package adlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/redis/go-redis/v9"
)

// Redis — хранилище фиксаций поверх Redis. Истечение записей обеспечивает
// сам Redis, поэтому ленивое удаление не требуется.
type Redis struct {
	client *redis.Client
}

// NewRedis создаёт хранилище фиксаций поверх подключения к Redis.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) key(visitorKey string) string {
	return "adlock:" + visitorKey
}

// Get возвращает зафиксированный ролик посетителя.
func (r *Redis) Get(ctx context.Context, visitorKey string) (*model.Ad, error) {
	b, err := r.client.Get(ctx, r.key(visitorKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ad lock: %w", err)
	}

	var ad model.Ad
	if err := json.Unmarshal(b, &ad); err != nil {
		return nil, fmt.Errorf("unmarshal ad lock: %w", err)
	}
	return &ad, nil
}

// Set фиксирует ролик за посетителем на время ttl.
func (r *Redis) Set(ctx context.Context, visitorKey string, ad *model.Ad, ttl time.Duration) error {
	b, err := json.Marshal(ad)
	if err != nil {
		return fmt.Errorf("marshal ad lock: %w", err)
	}
	if err := r.client.Set(ctx, r.key(visitorKey), b, ttl).Err(); err != nil {
		return fmt.Errorf("set ad lock: %w", err)
	}
	return nil
}
