package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// activeCallsKey is a sorted set of call ids scored by expiry (unix seconds).
const activeCallsKey = "voice:calls:active"

func callKey(id string) string         { return "voice:call:" + id }
func answeredKey(id string) string     { return "voice:call:" + id + ":answered" }
func eventKey(id string) string        { return "voice:event:" + id }
func conversationKey(id string) string { return "voice:conversation:" + id }

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// RedisCallStateStore shares call state between agent instances
type RedisCallStateStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCallStateStore creates a Redis-backed call state store
func NewRedisCallStateStore(client *redis.Client) *RedisCallStateStore {
	return &RedisCallStateStore{client: client, now: time.Now}
}

func (r *RedisCallStateStore) Get(ctx context.Context, callControlID string) (*CallState, error) {
	raw, err := r.client.Get(ctx, callKey(callControlID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var state CallState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode call state: %w", err)
	}
	return &state, nil
}

func (r *RedisCallStateStore) Save(ctx context.Context, state *CallState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode call state: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, callKey(state.CallControlID), raw, CallTTL)
	pipe.ZAdd(ctx, activeCallsKey, redis.Z{
		Score:  float64(r.now().Add(CallTTL).Unix()),
		Member: state.CallControlID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCallStateStore) Delete(ctx context.Context, callControlID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, callKey(callControlID), answeredKey(callControlID))
	pipe.ZRem(ctx, activeCallsKey, callControlID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCallStateStore) MarkAnswered(ctx context.Context, callControlID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, answeredKey(callControlID), 1, CallTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (r *RedisCallStateStore) SeenEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	first, err := r.client.SetNX(ctx, eventKey(eventID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return !first, nil
}

func (r *RedisCallStateStore) ForgetEvent(ctx context.Context, eventID string) error {
	if err := r.client.Del(ctx, eventKey(eventID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Active drops members whose call key has expired before counting.
func (r *RedisCallStateStore) Active(ctx context.Context) (int, error) {
	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, activeCallsKey, "-inf", strconv.FormatInt(r.now().Unix(), 10))
	card := pipe.ZCard(ctx, activeCallsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis zcard failed: %w", err)
	}
	return int(card.Val()), nil
}

// RedisConversationStore keeps chat history in a capped Redis list per call
type RedisConversationStore struct {
	client *redis.Client
}

// NewRedisConversationStore creates a Redis-backed conversation store
func NewRedisConversationStore(client *redis.Client) *RedisConversationStore {
	return &RedisConversationStore{client: client}
}

func (r *RedisConversationStore) History(ctx context.Context, callControlID string) ([]Message, error) {
	items, err := r.client.LRange(ctx, conversationKey(callControlID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	history := make([]Message, 0, len(items))
	for _, item := range items {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		history = append(history, msg)
	}
	return history, nil
}

func (r *RedisConversationStore) Append(ctx context.Context, callControlID string, limit int, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, raw)
	}

	key := conversationKey(callControlID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if limit > 0 {
		pipe.LTrim(ctx, key, int64(-limit), -1)
	}
	pipe.Expire(ctx, key, CallTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append failed: %w", err)
	}
	return nil
}

func (r *RedisConversationStore) Clear(ctx context.Context, callControlID string) error {
	if err := r.client.Del(ctx, conversationKey(callControlID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
