// Package redisstore implements the store repositories on Redis.
//
// # Key layout
//
//	{prefix}:user:{id}                  user hash
//	{prefix}:user:email:{email}         email -> id index (SETNX claims uniqueness)
//	{prefix}:rt:{hash}                  refresh token hash
//	{prefix}:rt:user:{id}               set of refresh token hashes per user
//	{prefix}:et:{hash}                  ephemeral token hash
//	{prefix}:et:user:{id}:{kind}        set of ephemeral token hashes per user and kind
//
// Token keys carry PEXPIREAT at ExpiresAt plus the configured retention.
// Index sets are pruned lazily when a bulk script meets a vanished member.
//
// Conditional updates run as Lua scripts. The bulk scripts build member keys
// from a prefix argument instead of receiving them in KEYS, so the store
// supports a single node or a Sentinel failover client only. Redis Cluster
// is not supported.
package redisstore
