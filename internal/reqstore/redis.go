package reqstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hogtrace/hogtrace/internal/vm"
)

const (
	reqKeyPrefix = "hogtrace:req:"

	// Stale request hashes expire on their own in case the host never
	// declares the request complete.
	defaultTTL = 10 * time.Minute
)

// RedisClient owns the connection shared by per-request Redis stores.
// It is the adapter for hosts whose requests migrate across processes
// (queue workers, multi-stage pipelines) and therefore cannot keep
// request slots in process memory.
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects and pings the Redis backend.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisClient{client: client, ttl: defaultTTL}, nil
}

// Close releases the connection.
func (c *RedisClient) Close() error { return c.client.Close() }

// Request binds a store to requestID, clearing any slots left over from
// a previous request that reused the id.
func (c *RedisClient) Request(ctx context.Context, requestID string) (*RedisStore, error) {
	s := &RedisStore{
		ctx:    ctx,
		client: c.client,
		key:    reqKeyPrefix + requestID,
		ttl:    c.ttl,
	}
	if err := c.client.Del(ctx, s.key).Err(); err != nil {
		return nil, fmt.Errorf("clearing request slots: %w", err)
	}
	return s, nil
}

// RedisStore is a request store backed by one Redis hash per request.
// Slot values are JSON-encoded; opaque Object values cannot leave the
// process and degrade to None. Backend failures also degrade to None
// reads and dropped writes — probe execution must never fail because the
// store is unhealthy.
type RedisStore struct {
	ctx    context.Context
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Get reads a slot; unset slots and backend failures read as None.
func (s *RedisStore) Get(name string) vm.Value {
	data, err := s.client.HGet(s.ctx, s.key, name).Result()
	if err != nil {
		return vm.None()
	}
	return decodeValue([]byte(data))
}

// Set writes a slot and refreshes the request TTL.
func (s *RedisStore) Set(name string, v vm.Value) {
	data, err := encodeValue(v)
	if err != nil {
		return
	}
	pipe := s.client.Pipeline()
	pipe.HSet(s.ctx, s.key, name, string(data))
	pipe.Expire(s.ctx, s.key, s.ttl)
	_, _ = pipe.Exec(s.ctx)
}

// Complete deletes the request's slots. Hosts call it when they declare
// the request finished.
func (s *RedisStore) Complete() error {
	return s.client.Del(s.ctx, s.key).Err()
}

// wireValue is the JSON shape of one slot.
type wireValue struct {
	Kind  string   `json:"kind"`
	Bool  *bool    `json:"bool,omitempty"`
	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
	Str   *string  `json:"str,omitempty"`
}

func encodeValue(v vm.Value) ([]byte, error) {
	var w wireValue
	switch v.Kind() {
	case vm.KindNone, vm.KindObject:
		w.Kind = "none"
	case vm.KindBool:
		b, _ := v.AsBool()
		w.Kind = "bool"
		w.Bool = &b
	case vm.KindInt:
		i, _ := v.AsInt()
		w.Kind = "int"
		w.Int = &i
	case vm.KindFloat:
		f, _ := v.AsFloat()
		w.Kind = "float"
		w.Float = &f
	case vm.KindString:
		str, _ := v.AsString()
		w.Kind = "string"
		w.Str = &str
	default:
		return nil, fmt.Errorf("unsupported value kind %d", v.Kind())
	}
	return json.Marshal(w)
}

func decodeValue(data []byte) vm.Value {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return vm.None()
	}
	switch w.Kind {
	case "bool":
		if w.Bool != nil {
			return vm.Bool(*w.Bool)
		}
	case "int":
		if w.Int != nil {
			return vm.Int(*w.Int)
		}
	case "float":
		if w.Float != nil {
			return vm.Float(*w.Float)
		}
	case "string":
		if w.Str != nil {
			return vm.Str(*w.Str)
		}
	}
	return vm.None()
}
