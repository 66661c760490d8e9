package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chime/pkg/logx"
)

// redisStore keeps each collection in one hash of JSON documents plus a set
// of pending task ids so GetPending does not scan terminal history.
//
// Keys (prefix defaults to "chime"):
//   - <prefix>:tasks          hash id -> TaskDocument
//   - <prefix>:tasks:pending  set of ids with pending/running status
//   - <prefix>:alarms         hash id -> AlarmDocument
//   - <prefix>:sounds         hash id -> SoundDocument
type redisStore struct {
	rdb    *redis.Client
	log    logx.Logger
	prefix string
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisStore(rdb, cfg.Redis.Prefix, log), nil
}

func newRedisStore(rdb *redis.Client, prefix string, log logx.Logger) *redisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "chime"
	}
	return &redisStore{rdb: rdb, log: log, prefix: prefix}
}

func (s *redisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *redisStore) Close() error { return s.rdb.Close() }

// ---- tasks ----

func (s *redisStore) Upsert(ctx context.Context, d TaskDocument) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		if prev, err := s.GetTask(ctx, d.ID); err == nil {
			d.CreatedAt = prev.CreatedAt
		} else {
			d.CreatedAt = now
		}
	}
	d.UpdatedAt = now
	return s.writeTask(ctx, d)
}

func (s *redisStore) writeTask(ctx context.Context, d TaskDocument) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key("tasks"), d.ID, b)
		if d.Pending() {
			p.SAdd(ctx, s.key("tasks", "pending"), d.ID)
		} else {
			p.SRem(ctx, s.key("tasks", "pending"), d.ID)
		}
		return nil
	})
	return err
}

func (s *redisStore) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	d, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	d.Status = status
	d.Error = errMsg
	d.UpdatedAt = time.Now().UTC()
	return s.writeTask(ctx, d)
}

func (s *redisStore) GetTask(ctx context.Context, id string) (TaskDocument, error) {
	var d TaskDocument
	if err := s.hget(ctx, s.key("tasks"), id, &d); err != nil {
		return TaskDocument{}, err
	}
	return d, nil
}

func (s *redisStore) GetPending(ctx context.Context) ([]TaskDocument, error) {
	ids, err := s.rdb.SMembers(ctx, s.key("tasks", "pending")).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.HMGet(ctx, s.key("tasks"), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]TaskDocument, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Dangling set member.
			s.rdb.SRem(ctx, s.key("tasks", "pending"), ids[i])
			continue
		}
		var d TaskDocument
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.log.Warn("redis task document unreadable", logx.String("id", ids[i]), logx.Err(err))
			continue
		}
		if d.Pending() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

// ---- alarms ----

func (s *redisStore) UpsertAlarm(ctx context.Context, a AlarmDocument) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		if prev, err := s.GetAlarm(ctx, a.ID); err == nil {
			a.CreatedAt = prev.CreatedAt
		} else {
			a.CreatedAt = now
		}
	}
	a.UpdatedAt = now
	return s.hset(ctx, s.key("alarms"), a.ID, a)
}

func (s *redisStore) GetAlarm(ctx context.Context, id string) (AlarmDocument, error) {
	var a AlarmDocument
	if err := s.hget(ctx, s.key("alarms"), id, &a); err != nil {
		return AlarmDocument{}, err
	}
	return a, nil
}

func (s *redisStore) ListAlarms(ctx context.Context) ([]AlarmDocument, error) {
	m, err := s.rdb.HGetAll(ctx, s.key("alarms")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]AlarmDocument, 0, len(m))
	for id, raw := range m {
		var a AlarmDocument
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			s.log.Warn("redis alarm document unreadable", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *redisStore) DeleteAlarm(ctx context.Context, id string) error {
	return s.hdel(ctx, s.key("alarms"), id)
}

// ---- sounds ----

func (s *redisStore) UpsertSound(ctx context.Context, snd SoundDocument) error {
	if snd.CreatedAt.IsZero() {
		snd.CreatedAt = time.Now().UTC()
	}
	if snd.IsDefault {
		return s.rewriteDefaults(ctx, snd.ID, &snd)
	}
	return s.hset(ctx, s.key("sounds"), snd.ID, snd)
}

func (s *redisStore) GetSound(ctx context.Context, id string) (SoundDocument, error) {
	var snd SoundDocument
	if err := s.hget(ctx, s.key("sounds"), id, &snd); err != nil {
		return SoundDocument{}, err
	}
	return snd, nil
}

func (s *redisStore) ListSounds(ctx context.Context) ([]SoundDocument, error) {
	m, err := s.rdb.HGetAll(ctx, s.key("sounds")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]SoundDocument, 0, len(m))
	for _, raw := range m {
		var snd SoundDocument
		if err := json.Unmarshal([]byte(raw), &snd); err != nil {
			continue
		}
		out = append(out, snd)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *redisStore) DeleteSound(ctx context.Context, id string) error {
	return s.hdel(ctx, s.key("sounds"), id)
}

func (s *redisStore) SetDefaultSound(ctx context.Context, id string) error {
	if _, err := s.GetSound(ctx, id); err != nil {
		return err
	}
	return s.rewriteDefaults(ctx, id, nil)
}

// rewriteDefaults clears is_default on every sound except id. When upsert is
// non-nil it is written in the same transaction.
func (s *redisStore) rewriteDefaults(ctx context.Context, id string, upsert *SoundDocument) error {
	sounds, err := s.ListSounds(ctx)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, snd := range sounds {
			if snd.ID == id && upsert != nil {
				continue
			}
			want := snd.ID == id
			if snd.IsDefault == want {
				continue
			}
			snd.IsDefault = want
			b, err := json.Marshal(snd)
			if err != nil {
				return err
			}
			p.HSet(ctx, s.key("sounds"), snd.ID, b)
		}
		if upsert != nil {
			b, err := json.Marshal(upsert)
			if err != nil {
				return err
			}
			p.HSet(ctx, s.key("sounds"), upsert.ID, b)
		}
		return nil
	})
	return err
}

// ---- helpers ----

func (s *redisStore) hset(ctx context.Context, key, field string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, key, field, b).Err()
}

func (s *redisStore) hget(ctx context.Context, key, field string, out any) error {
	raw, err := s.rdb.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *redisStore) hdel(ctx context.Context, key, field string) error {
	n, err := s.rdb.HDel(ctx, key, field).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
