package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	lookupHit     = "hit"
	lookupMiss    = "miss"
	lookupExpired = "expired"
	lookupInvalid = "invalid"
)

var (
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"}, // hit, miss, expired, invalid
	)

	bytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_cache_bytes_total",
			Help: "Bytes read from and written to the response cache",
		},
		[]string{"direction"}, // read, write
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_cache_errors_total",
			Help: "Response cache operation errors",
		},
		[]string{"operation"}, // get, set, delete, purge
	)
)
