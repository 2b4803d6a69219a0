// Package cache provides TTL document stores used to share fetched key sets.
//
// MemoryCache keeps documents in process; RedisCache keeps them in Redis so
// every gatekeeper instance behind a load balancer reuses one fetch. Both
// apply a Policy that supplies a default TTL and clamps long ones.
package cache
