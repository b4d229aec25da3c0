package probequeue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scheduleKey     = "proxypool:probe_schedule"
	emptyQueueSleep = 1 * time.Second
)

//go:embed pop.lua
var luaPopScript string

// RedisSchedule shares the probe workload between instances: every member
// is a proxy id scored by its due unix time, and the pop script removes a
// due member atomically so no two instances probe the same proxy.
type RedisSchedule struct {
	client    *redis.Client
	ctx       context.Context
	popScript *redis.Script
}

func NewRedisSchedule(client *redis.Client) *RedisSchedule {
	return &RedisSchedule{
		client:    client,
		ctx:       context.Background(),
		popScript: redis.NewScript(luaPopScript),
	}
}

func (rs *RedisSchedule) Enroll(proxyID string, due time.Time) error {
	return rs.client.ZAddArgs(rs.ctx, scheduleKey, redis.ZAddArgs{
		NX: true,
		Members: []redis.Z{{
			Score:  float64(due.Unix()),
			Member: proxyID,
		}},
	}).Err()
}

func (rs *RedisSchedule) Requeue(proxyID string, due time.Time) error {
	return rs.client.ZAdd(rs.ctx, scheduleKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: proxyID,
	}).Err()
}

func (rs *RedisSchedule) Remove(proxyID string) error {
	return rs.client.ZRem(rs.ctx, scheduleKey, proxyID).Err()
}

func (rs *RedisSchedule) PopDue(ctx context.Context) (string, time.Time, error) {
	if ctx == nil {
		ctx = rs.ctx
	}

	for {
		select {
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		default:
		}

		now := time.Now().Unix()
		result, err := rs.popScript.Run(ctx, rs.client, []string{scheduleKey}, now).Result()

		if errors.Is(err, redis.Nil) {
			select {
			case <-ctx.Done():
				return "", time.Time{}, ctx.Err()
			case <-time.After(emptyQueueSleep):
			}
			continue
		} else if err != nil {
			return "", time.Time{}, fmt.Errorf("lua script failed: %w", err)
		}

		resSlice := result.([]interface{})
		proxyID := resSlice[0].(string)
		score, err := strconv.ParseFloat(resSlice[1].(string), 64)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to parse schedule score: %w", err)
		}

		return proxyID, time.Unix(int64(score), 0), nil
	}
}

func (rs *RedisSchedule) Len() (int64, error) {
	return rs.client.ZCard(rs.ctx, scheduleKey).Result()
}
