package redis

import "github.com/redis/go-redis/v9"

// dequeueScript promotes due delayed jobs into the ready set, then claims
// up to limit ready jobs and marks them active.
//
// KEYS[1] ready set, KEYS[2] delayed set, KEYS[3] ready scores hash.
// ARGV[1] now in ms, ARGV[2] limit, ARGV[3] job key prefix,
// ARGV[4] now as RFC3339.
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  local score = redis.call('HGET', KEYS[3], id)
  if score then
    redis.call('ZADD', KEYS[1], score, id)
  end
  redis.call('ZREM', KEYS[2], id)
end

local claimed = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[2]) - 1)
for _, id in ipairs(claimed) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[3], id)
  redis.call('HSET', ARGV[3] .. id,
    'state', 'active',
    'started_at', ARGV[4],
    'heartbeat_at', ARGV[4],
    'updated_at', ARGV[4])
end
return claimed
`)

// removeDependencyScript removes a child from its parent's outstanding
// set and reports {parentID, drained, failedChildren}. Only the call that
// empties the set returns drained = 1.
//
// KEYS[1] parent_of hash, KEYS[2] parents set.
// ARGV[1] child ID, ARGV[2] "1" if the child failed, ARGV[3] deps key
// prefix, ARGV[4] failed counter key prefix.
var removeDependencyScript = redis.NewScript(`
local parent = redis.call('HGET', KEYS[1], ARGV[1])
if not parent then
  return {'', 0, 0}
end
redis.call('HDEL', KEYS[1], ARGV[1])

local deps = ARGV[3] .. parent
local failedKey = ARGV[4] .. parent
if redis.call('SREM', deps, ARGV[1]) == 0 then
  return {parent, 0, 0}
end
if ARGV[2] == '1' then
  redis.call('INCR', failedKey)
end
if redis.call('SCARD', deps) > 0 then
  return {parent, 0, 0}
end

local failed = tonumber(redis.call('GET', failedKey) or '0')
redis.call('DEL', deps, failedKey)
redis.call('SREM', KEYS[2], parent)
return {parent, 1, failed}
`)
