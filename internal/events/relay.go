package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// progressTTL bounds how long the latest progress snapshot stays readable
// after the last update.
const progressTTL = time.Hour

// RedisRelay mirrors bus events to Redis so out-of-process observers can
// follow a job: each event is published on job:<id>:progress and the latest
// event is stored under progress:<id> for poll-after-reconnect.
type RedisRelay struct {
	client *redis.Client
}

// NewRedisRelay connects to Redis and verifies the connection.
func NewRedisRelay(redisURL string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRelay{client: client}, nil
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// Relay publishes the event and refreshes the latest-progress key. Errors are
// logged, never propagated — the in-process bus is the source of truth and a
// publisher must not block or fail on relay trouble.
func (r *RedisRelay) Relay(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Events] Failed to marshal event for relay: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := fmt.Sprintf("job:%s:progress", event.JobID)
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("[Events] Redis publish failed for job %s: %v", event.JobID, err)
	}

	key := fmt.Sprintf("progress:%s", event.JobID)
	if err := r.client.Set(ctx, key, data, progressTTL).Err(); err != nil {
		log.Printf("[Events] Redis set failed for job %s: %v", event.JobID, err)
	}
}

// LatestProgress reads the stored latest event for a job, for pollers that
// reconnect after the in-process stream ended.
func (r *RedisRelay) LatestProgress(ctx context.Context, jobID string) (*Event, error) {
	data, err := r.client.Get(ctx, fmt.Sprintf("progress:%s", jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &event, nil
}
