package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"groupbot/internal/identity"
)

const maxTxRetries = 32

// RedisStore keeps each group as a JSON document under group:{id}. Mutations
// use WATCH/MULTI and retry when another writer got there first.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	indexKey string
	now      func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   "group:",
		indexKey: "groups",
		now:      time.Now,
	}
}

func (s *RedisStore) key(groupID string) string {
	return s.prefix + groupID
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, err
	}
	rec.ensureSets()
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, groupID string) (Group, error) {
	data, err := s.client.Get(ctx, s.key(groupID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("get group %s: %w", groupID, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Group{}, fmt.Errorf("decode group %s: %w", groupID, err)
	}
	return rec.group(), nil
}

func (s *RedisStore) List(ctx context.Context) ([]Group, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	sort.Strings(ids)
	groups := make([]Group, 0, len(ids))
	if len(ids) == 0 {
		return groups, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode group %s: %w", ids[i], err)
		}
		groups = append(groups, rec.group())
	}
	return groups, nil
}

func (s *RedisStore) Replace(ctx context.Context, groupID string, roster Roster) (Group, error) {
	g, _, err := s.update(ctx, groupID, replaceRoster(roster))
	return g, err
}

func (s *RedisStore) Seed(ctx context.Context, groupID string, roster Roster) (Group, bool, error) {
	g, existed, err := s.update(ctx, groupID, seedRoster(roster))
	return g, !existed, err
}

func (s *RedisStore) AddMembers(ctx context.Context, groupID string, ids ...identity.ID) (Group, error) {
	g, _, err := s.update(ctx, groupID, addMembers(ids))
	return g, err
}

func (s *RedisStore) RemoveMembers(ctx context.Context, groupID string, ids ...identity.ID) (Group, error) {
	g, _, err := s.update(ctx, groupID, removeMembers(ids))
	return g, err
}

func (s *RedisStore) PromoteAdmins(ctx context.Context, groupID string, ids ...identity.ID) (Group, error) {
	g, _, err := s.update(ctx, groupID, promoteAdmins(ids))
	return g, err
}

func (s *RedisStore) DemoteAdmins(ctx context.Context, groupID string, ids ...identity.ID) (Group, error) {
	g, _, err := s.update(ctx, groupID, demoteAdmins(ids))
	return g, err
}

func (s *RedisStore) UpdateSettings(ctx context.Context, groupID string, patch SettingsPatch) (Group, error) {
	g, _, err := s.update(ctx, groupID, updateSettings(patch))
	return g, err
}

func (s *RedisStore) Delete(ctx context.Context, groupID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(groupID))
		pipe.SRem(ctx, s.indexKey, groupID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete group %s: %w", groupID, err)
	}
	return nil
}

func (s *RedisStore) update(ctx context.Context, groupID string, fn change) (Group, bool, error) {
	key := s.key(groupID)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var (
			rec     record
			existed bool
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			now := s.now().UTC()
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				rec, existed = newRecord(groupID, now), false
			case err != nil:
				return err
			default:
				if rec, err = decodeRecord(data); err != nil {
					return fmt.Errorf("decode group %s: %w", groupID, err)
				}
				existed = true
			}

			if !fn(&rec, existed) {
				return nil
			}
			rec.UpdatedAt = now.UnixMilli()
			encoded, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode group %s: %w", groupID, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				pipe.SAdd(ctx, s.indexKey, groupID)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return rec.group(), existed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Group{}, false, fmt.Errorf("update group %s: %w", groupID, err)
	}
	return Group{}, false, fmt.Errorf("update group %s: %w", groupID, ErrConflict)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
