// Package store defines the persisted entities and the repository contracts
// the engine depends on.
//
// Every collection is keyed independently: refresh and ephemeral tokens hold
// the owning user id, never a reference to the User value. Mutations that
// must not race (rotation, single-use consumption, failed-login counting)
// are expressed as conditional updates so that each backend can implement
// them with its native atomic primitive.
//
// Backends:
//
//   - [github.com/MrEthical07/authcore/store/redisstore]: Redis hashes and Lua scripts.
//   - [github.com/MrEthical07/authcore/store/gormstore]: SQL through GORM (sqlite, postgres).
//
// [github.com/MrEthical07/authcore/store/storetest] holds the conformance
// suite both backends run.
package store
