package urlcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookvault_url_cache_hits_total",
		Help: "Total signed URL lookups served from cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookvault_url_cache_misses_total",
		Help: "Total signed URL lookups that required signing.",
	})
)
