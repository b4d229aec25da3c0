// Package runtime tracks which pool instances are alive. Instances sharing
// one Redis probe schedule announce themselves here so operators can see
// how many workers split the check load.
package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	heartbeatKeyPrefix = "proxypool:instance:"
	heartbeatInterval  = 15 * time.Second
	heartbeatTTL       = 30 * time.Second
)

var instanceID = fmt.Sprintf("%s-%d-%d", hostname(), os.Getpid(), time.Now().UnixNano())

func hostname() string {
	name, _ := os.Hostname()
	return name
}

// InstanceID identifies this process within the shared deployment.
func InstanceID() string {
	return instanceID
}

// StartHeartbeat announces this instance until the context ends. The key
// expires on its own, so a crashed instance disappears without cleanup.
func StartHeartbeat(ctx context.Context, client *redis.Client) {
	key := heartbeatKeyPrefix + instanceID

	beat := func() {
		if err := client.SetEx(ctx, key, "alive", heartbeatTTL).Err(); err != nil {
			log.Error("Failed to update instance heartbeat", "key", key, "error", err)
		}
	}
	beat()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = client.Del(context.Background(), key).Err()
			return
		case <-ticker.C:
			beat()
		}
	}
}

// CountActiveInstances reports how many pool instances currently share the
// probe workload.
func CountActiveInstances(ctx context.Context, client *redis.Client) (int, error) {
	var count int
	iter := client.Scan(ctx, 0, heartbeatKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}
