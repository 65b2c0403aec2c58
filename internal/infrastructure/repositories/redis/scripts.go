package redis

import goredis "github.com/redis/go-redis/v9"

// Every shared mutation is one of these scripts so that concurrent gateway
// instances never interleave inside a read-modify-write.

// beginSessionScript claims a stream key. Returns 1 on success, 0 when a
// session already exists.
// KEYS: [1]=session [2]=viewers [3]=active index
// ARGV: [1]=session json [2]=ttl ms [3]=expiry unix ms [4]=stream key
var beginSessionScript = goredis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  redis.call('DEL', KEYS[2])
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
  return 1
end
return 0
`)

// endSessionScript removes a session and returns {session json, viewers}, or
// nil when none existed.
// KEYS: [1]=session [2]=viewers [3]=active index
// ARGV: [1]=stream key
var endSessionScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
local viewers = redis.call('GET', KEYS[2])
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
if not v then
  return false
end
return {v, viewers or '0'}
`)

// viewerDeltaScript applies a delta clamped at zero and refreshes the TTL.
// KEYS: [1]=viewers
// ARGV: [1]=delta [2]=ttl ms
var viewerDeltaScript = goredis.NewScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if n < 0 then
  n = 0
  redis.call('SET', KEYS[1], 0)
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return n
`)

// refreshSessionScript extends a live session and its viewer counter. The
// counter is refreshed whether or not the session exists. Returns 1 when the
// session exists.
// KEYS: [1]=session [2]=viewers [3]=active index
// ARGV: [1]=session ttl ms [2]=viewer ttl ms [3]=expiry unix ms [4]=stream key
var refreshSessionScript = goredis.NewScript(`
local live = redis.call('PEXPIRE', KEYS[1], ARGV[1])
if live == 1 then
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
end
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return live
`)

// hitWindowScript increments a fixed-window counter, starting the window on
// the first hit, and returns {count, remaining ms}.
// KEYS: [1]=counter
// ARGV: [1]=window ms
var hitWindowScript = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)
