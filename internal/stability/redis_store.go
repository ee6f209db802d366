package stability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 20

// RedisStore keeps windows in Redis so every worker process sees the same
// state. Updates run in a WATCH/MULTI transaction on the call's keys, retried
// when another worker wins the race.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func windowKey(callID int64) string {
	return "stability:{" + strconv.FormatInt(callID, 10) + "}:window"
}

func stateKey(callID int64) string {
	return "stability:{" + strconv.FormatInt(callID, 10) + "}:state"
}

func (s *RedisStore) Observe(ctx context.Context, callID int64, positive bool, rule Rule) (Transition, error) {
	wk, sk := windowKey(callID), stateKey(callID)
	bit := "0"
	if positive {
		bit = "1"
	}

	var out Transition
	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, wk, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		prev := Safe
		if v, err := tx.Get(ctx, sk).Result(); err == nil {
			prev = State(v)
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		bits := make([]bool, 0, len(raw))
		for _, r := range raw {
			bits = append(bits, r == "1")
		}
		bits = Push(bits, positive, rule.Size)
		next := rule.Next(prev, bits)

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, wk, bit)
			p.LTrim(ctx, wk, int64(-rule.Size), -1)
			p.Expire(ctx, wk, s.ttl)
			p.Set(ctx, sk, string(next), s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = Transition{Previous: prev, Current: next, Positives: Positives(bits)}
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, wk, sk)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return Transition{}, err
		}
	}
	return Transition{}, errors.New("debounce window update kept conflicting")
}

func (s *RedisStore) Reset(ctx context.Context, callID int64) error {
	return s.rdb.Del(ctx, windowKey(callID), stateKey(callID)).Err()
}
