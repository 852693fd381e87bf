// Package redislock stores edit locks in Redis hashes. Every state change
// that reads before it writes runs as a Lua script so the check and the
// write are one atomic step on the server.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"dealroom/api/internal/editlock"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "dealroom:locks"

var _ editlock.Store = (*Store)(nil)

// claimScript returns {claimed, holder, name, acquired, renewed}.
var claimScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], 'renewed')
local renewed = raw and tonumber(raw)
local claimed = 1
if renewed and renewed > tonumber(ARGV[7]) then
  if redis.call('HGET', KEYS[1], 'holder') ~= ARGV[4] then
    claimed = 0
  else
    redis.call('HSET', KEYS[1], 'renewed', ARGV[6])
  end
else
  redis.call('HSET', KEYS[1],
    'org', ARGV[1], 'type', ARGV[2], 'id', ARGV[3],
    'holder', ARGV[4], 'name', ARGV[5],
    'acquired', ARGV[6], 'renewed', ARGV[6])
end
if claimed == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[8])
  redis.call('SADD', KEYS[2], KEYS[1])
  redis.call('SADD', KEYS[3], ARGV[1])
end
local v = redis.call('HMGET', KEYS[1], 'holder', 'name', 'acquired', 'renewed')
return {claimed, v[1], v[2], v[3], v[4]}
`)

var renewScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'holder', 'renewed')
if v[1] ~= ARGV[1] or not v[2] or tonumber(v[2]) <= tonumber(ARGV[3]) then
  return {0}
end
redis.call('HSET', KEYS[1], 'renewed', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
local r = redis.call('HMGET', KEYS[1], 'holder', 'name', 'acquired', 'renewed')
return {1, r[1], r[2], r[3], r[4]}
`)

var deleteExpiredScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'holder', 'name', 'acquired', 'renewed')
if not v[4] then
  redis.call('SREM', KEYS[2], KEYS[1])
  return {0}
end
if tonumber(v[4]) > tonumber(ARGV[1]) then
  return {0}
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], KEYS[1])
return {1, v[1], v[2], v[3], v[4]}
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], KEYS[1])
return 1
`)

var pruneOrgScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[2], ARGV[1])
end
return 0
`)

type Store struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) lockKey(key editlock.Key) string {
	return fmt.Sprintf("%s:lock:%s:%s:%s", s.prefix, key.OrganizationID, key.EntityType, key.EntityID)
}

func (s *Store) orgKey(organizationID string) string {
	return s.prefix + ":org:" + organizationID
}

func (s *Store) orgsKey() string {
	return s.prefix + ":orgs"
}

// retention keeps an expired hash around for one extra timeout so a takeover
// can still see who went silent; Redis drops it after that.
func retention(now, cutoff time.Time) int64 {
	ms := 2 * now.Sub(cutoff).Milliseconds()
	if ms <= 0 {
		ms = 2 * editlock.DefaultTimeout.Milliseconds()
	}
	return ms
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(raw any) (time.Time, error) {
	text, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected timestamp %T", raw)
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", text, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// scriptLock decodes the {flag, holder, name, acquired, renewed} reply shared
// by the scripts. The flag is returned separately; a bare {0} has no lock.
func scriptLock(key editlock.Key, reply any) (bool, *editlock.Lock, error) {
	values, ok := reply.([]any)
	if !ok || len(values) == 0 {
		return false, nil, fmt.Errorf("unexpected script reply %T", reply)
	}
	flag, _ := values[0].(int64)
	if len(values) < 5 {
		return flag == 1, nil, nil
	}
	lock, err := decodeFields(key, values[1:])
	if err != nil {
		return false, nil, err
	}
	return flag == 1, lock, nil
}

// decodeFields turns holder, name, acquired, renewed into a Lock. A missing
// holder means the hash does not exist.
func decodeFields(key editlock.Key, fields []any) (*editlock.Lock, error) {
	holder, ok := fields[0].(string)
	if !ok || holder == "" {
		return nil, nil
	}
	name, _ := fields[1].(string)
	acquired, err := parseMillis(fields[2])
	if err != nil {
		return nil, err
	}
	renewed, err := parseMillis(fields[3])
	if err != nil {
		return nil, err
	}
	return &editlock.Lock{
		EntityType:        key.EntityType,
		EntityID:          key.EntityID,
		OrganizationID:    key.OrganizationID,
		HolderUserID:      holder,
		HolderDisplayName: name,
		AcquiredAt:        acquired,
		RenewedAt:         renewed,
	}, nil
}

func (s *Store) FindActive(ctx context.Context, key editlock.Key, cutoff time.Time) (*editlock.Lock, error) {
	fields, err := s.client.HMGet(ctx, s.lockKey(key), "holder", "name", "acquired", "renewed").Result()
	if err != nil {
		return nil, fmt.Errorf("find active lock: %w", err)
	}
	lock, err := decodeFields(key, fields)
	if err != nil {
		return nil, fmt.Errorf("decode lock: %w", err)
	}
	if lock == nil || !lock.RenewedAt.After(cutoff) {
		return nil, nil
	}
	return lock, nil
}

func (s *Store) DeleteExpired(ctx context.Context, key editlock.Key, cutoff time.Time) (*editlock.Lock, error) {
	reply, err := deleteExpiredScript.Run(ctx, s.client,
		[]string{s.lockKey(key), s.orgKey(key.OrganizationID)},
		cutoff.UnixMilli(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("delete expired lock: %w", err)
	}
	deleted, lock, err := scriptLock(key, reply)
	if err != nil || !deleted {
		return nil, err
	}
	return lock, nil
}

func (s *Store) Claim(ctx context.Context, lock editlock.Lock, cutoff time.Time) (editlock.Lock, bool, error) {
	key := lock.Key()
	reply, err := claimScript.Run(ctx, s.client,
		[]string{s.lockKey(key), s.orgKey(key.OrganizationID), s.orgsKey()},
		key.OrganizationID,
		string(key.EntityType),
		key.EntityID,
		lock.HolderUserID,
		lock.HolderDisplayName,
		millis(lock.RenewedAt),
		cutoff.UnixMilli(),
		retention(lock.RenewedAt, cutoff),
	).Result()
	if err != nil {
		return editlock.Lock{}, false, fmt.Errorf("claim lock: %w", err)
	}
	claimed, current, err := scriptLock(key, reply)
	if err != nil {
		return editlock.Lock{}, false, err
	}
	if current == nil {
		return editlock.Lock{}, false, editlock.ErrClaimConflict
	}
	return *current, claimed, nil
}

func (s *Store) Renew(ctx context.Context, key editlock.Key, holderUserID string, now, cutoff time.Time) (*editlock.Lock, error) {
	reply, err := renewScript.Run(ctx, s.client,
		[]string{s.lockKey(key)},
		holderUserID,
		millis(now),
		cutoff.UnixMilli(),
		retention(now, cutoff),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("renew lock: %w", err)
	}
	renewed, lock, err := scriptLock(key, reply)
	if err != nil || !renewed {
		return nil, err
	}
	return lock, nil
}

func (s *Store) Release(ctx context.Context, key editlock.Key, holderUserID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client,
		[]string{s.lockKey(key), s.orgKey(key.OrganizationID)},
		holderUserID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ForceRelease(ctx context.Context, key editlock.Key) (bool, error) {
	lockKey := s.lockKey(key)
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, lockKey)
		pipe.SRem(ctx, s.orgKey(key.OrganizationID), lockKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("force release lock: %w", err)
	}
	return del.Val() > 0, nil
}

func (s *Store) ListActive(ctx context.Context, organizationID string, cutoff time.Time) ([]editlock.Lock, error) {
	orgKey := s.orgKey(organizationID)
	members, err := s.client.SMembers(ctx, orgKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list lock index: %w", err)
	}

	cmds := make([]*redis.SliceCmd, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, member := range members {
			cmds[i] = pipe.HMGet(ctx, member, "type", "id", "holder", "name", "acquired", "renewed")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load locks: %w", err)
	}

	items := make([]editlock.Lock, 0, len(members))
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) < 6 || fields[2] == nil {
			stale = append(stale, members[i])
			continue
		}
		entityType, _ := fields[0].(string)
		entityID, _ := fields[1].(string)
		lock, err := decodeFields(editlock.Key{
			OrganizationID: organizationID,
			EntityType:     editlock.EntityType(entityType),
			EntityID:       entityID,
		}, fields[2:])
		if err != nil {
			return nil, fmt.Errorf("decode lock %s: %w", members[i], err)
		}
		if lock != nil && lock.RenewedAt.After(cutoff) {
			items = append(items, *lock)
		}
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, orgKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune lock index: %w", err)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].RenewedAt.After(items[j].RenewedAt)
	})
	return items, nil
}

func (s *Store) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	orgs, err := s.client.SMembers(ctx, s.orgsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list lock orgs: %w", err)
	}

	var removed int64
	for _, org := range orgs {
		orgKey := s.orgKey(org)
		members, err := s.client.SMembers(ctx, orgKey).Result()
		if err != nil {
			return removed, fmt.Errorf("list lock index: %w", err)
		}
		for _, member := range members {
			reply, err := deleteExpiredScript.Run(ctx, s.client, []string{member, orgKey}, cutoff.UnixMilli()).Result()
			if err != nil {
				return removed, fmt.Errorf("sweep lock %s: %w", member, err)
			}
			if values, ok := reply.([]any); ok && len(values) > 0 {
				if flag, _ := values[0].(int64); flag == 1 {
					removed++
				}
			}
		}
		if err := pruneOrgScript.Run(ctx, s.client, []string{orgKey, s.orgsKey()}, org).Err(); err != nil {
			return removed, fmt.Errorf("prune lock org %s: %w", org, err)
		}
	}
	return removed, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
