// Package cache keeps GraphQL query responses in Redis.
//
// Responses are keyed by endpoint, query text and variables. A work item
// issued again within the TTL, for instance when a narrowing redirect covers
// an interval that was already fetched, is answered without spending quota.
// Only complete responses are stored; anything carrying GraphQL errors goes
// to the API every time.
//
//	store := cache.NewStore(redisClient)
//	key := cache.Key{Endpoint: endpoint, Query: usercount.Query, Variables: vars}
//
//	data, err := store.Lookup(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// query the API, then
//		_ = store.Save(ctx, key, data, time.Hour)
//	}
//
// Purge drops every response of an endpoint, e.g. after a query document
// changed shape.
package cache
