package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babmutna_recommendations_total",
			Help: "Recommendation requests by outcome (ok, error, stale).",
		},
		[]string{"outcome"},
	)

	WeatherFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babmutna_weather_failures_total",
		Help: "Weather fetches that failed and were ignored.",
	})

	RouletteSpinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babmutna_roulette_spins_total",
		Help: "Accepted roulette spins.",
	})

	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babmutna_selections_total",
			Help: "Confirmed menu selections by method (direct, roulette).",
		},
		[]string{"method"},
	)

	LocationResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babmutna_location_results_total",
			Help: "Location requests by permission outcome.",
		},
		[]string{"permission"},
	)

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "babmutna_active_sessions",
		Help: "Chats with a running navigation controller.",
	})
)
