package redisstore

import "github.com/redis/go-redis/v9"

// Timestamps are stored as unix milliseconds; "0" means unset. Every script
// computes its decision and its write inside one EVAL, which Redis runs
// without interleaving other commands.

const createUserScript = `
if redis.call("SETNX", KEYS[2], ARGV[1]) == 0 then
  return 0
end
if redis.call("EXISTS", KEYS[1]) == 1 then
  redis.call("DEL", KEYS[2])
  return -1
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
return 1
`

const updateUserScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`

const recordFailureScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {-1, 0, "0"}
end
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local count = tonumber(redis.call("HGET", KEYS[1], "failed_login_count") or "0") or 0
local locked_until = redis.call("HGET", KEYS[1], "lockout_until") or "0"
local until_ms = tonumber(locked_until) or 0
if until_ms > 0 and until_ms <= now then
  count = 0
  locked_until = "0"
  until_ms = 0
end
count = count + 1
local locked = 0
if until_ms == 0 and threshold > 0 and count >= threshold then
  locked_until = ARGV[3]
  locked = 1
end
redis.call("HSET", KEYS[1], "failed_login_count", tostring(count), "lockout_until", locked_until, "updated_at", ARGV[1])
return {count, locked, locked_until}
`

const insertTokenScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("PEXPIREAT", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`

const revokeTokenScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local revoked = tonumber(redis.call("HGET", KEYS[1], "revoked_at") or "0") or 0
if revoked > 0 then
  return 0
end
if ARGV[4] == "1" then
  local expires = tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0") or 0
  if expires <= tonumber(ARGV[1]) then
    return 0
  end
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "revocation_reason", ARGV[2], "replaced_by", ARGV[3])
return 1
`

// markAllScript flags every live member of an index set. ARGV[3] names the
// flag field (revoked_at or used_at); ARGV[4..] are extra field pairs.
const markAllScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local now = tonumber(ARGV[1])
local count = 0
for _, member in ipairs(members) do
  local key = ARGV[2] .. member
  if redis.call("EXISTS", key) == 0 then
    redis.call("SREM", KEYS[1], member)
  else
    local flagged = tonumber(redis.call("HGET", key, ARGV[3]) or "0") or 0
    local expires = tonumber(redis.call("HGET", key, "expires_at") or "0") or 0
    if flagged == 0 and expires > now then
      redis.call("HSET", key, ARGV[3], ARGV[1])
      if #ARGV > 3 then
        redis.call("HSET", key, unpack(ARGV, 4))
      end
      count = count + 1
    end
  end
end
return count
`

const consumeTokenScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "kind") ~= ARGV[2] then
  return 0
end
local used = tonumber(redis.call("HGET", KEYS[1], "used_at") or "0") or 0
if used > 0 then
  return 0
end
local expires = tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0") or 0
if expires <= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "used_at", ARGV[1])
return 1
`

var (
	createUserLua    = redis.NewScript(createUserScript)
	updateUserLua    = redis.NewScript(updateUserScript)
	recordFailureLua = redis.NewScript(recordFailureScript)
	insertTokenLua   = redis.NewScript(insertTokenScript)
	revokeTokenLua   = redis.NewScript(revokeTokenScript)
	markAllLua       = redis.NewScript(markAllScript)
	consumeTokenLua  = redis.NewScript(consumeTokenScript)
)
