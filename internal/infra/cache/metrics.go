package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidencia_proof_cache_hits_total",
		Help: "Proof lookups served from cache.",
	}, []string{"backend"})
	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidencia_proof_cache_misses_total",
		Help: "Proof lookups that fell through to the store.",
	}, []string{"backend"})
)
