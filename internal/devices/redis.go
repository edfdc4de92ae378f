package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// device key: lumachat:dev:<user>
// Hash field is the device id, value the owning gateway id. TTL bounds
// staleness after an unclean shutdown.
func deviceKey(userID string) string { return "lumachat:dev:" + userID }

// RedisMirror implements Mirror on a shared Redis instance.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisMirror{rdb: rdb, ttl: ttl}, nil
}

// RegisterDevice records the device and renews the key TTL.
func (m *RedisMirror) RegisterDevice(ctx context.Context, reg Registration) error {
	key := deviceKey(reg.UserID)
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key, reg.DeviceID, reg.GatewayID)
	pipe.Expire(ctx, key, m.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// UnregisterDevice removes the device field; the key expires on its own
// when the hash empties.
func (m *RedisMirror) UnregisterDevice(ctx context.Context, userID, deviceID string) error {
	return m.rdb.HDel(ctx, deviceKey(userID), deviceID).Err()
}

// DevicesOf lists device id -> gateway id for a user.
func (m *RedisMirror) DevicesOf(ctx context.Context, userID string) (map[string]string, error) {
	return m.rdb.HGetAll(ctx, deviceKey(userID)).Result()
}

// Close releases the underlying client.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
