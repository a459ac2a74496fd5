package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdp",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// EngineMetrics wraps collectors tracking vault and debt pool health.
type EngineMetrics struct {
	operations     *prometheus.CounterVec
	liquidations   *prometheus.CounterVec
	seizedValue    *prometheus.CounterVec
	poolDebt       prometheus.Gauge
	poolMarkupDebt prometheus.Gauge
	poolShares     prometheus.Gauge
	pauseEngaged   prometheus.Gauge
}

// Engine exposes the metrics registry for the vault engine.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Count of completed liquidations segmented by collateral asset.",
			}, []string{"asset"}),
			seizedValue: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "seized_collateral_total",
				Help:      "Cumulative seized collateral in native token units per asset.",
			}, []string{"asset"}),
			poolDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "pool_market_debt",
				Help:      "Debt owed to the external market in market debt units.",
			}),
			poolMarkupDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "pool_debt_with_markup",
				Help:      "Market debt plus the protocol markup in market debt units.",
			}),
			poolShares: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "pool_total_shares",
				Help:      "Outstanding debt shares across all positions.",
			}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cdp",
				Subsystem: "engine",
				Name:      "pause_engaged",
				Help:      "Indicates whether the engine pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.liquidations,
			engineRegistry.seizedValue,
			engineRegistry.poolDebt,
			engineRegistry.poolMarkupDebt,
			engineRegistry.poolShares,
			engineRegistry.pauseEngaged,
		)
	})
	return engineRegistry
}

// ObserveOperation records the outcome of an engine operation.
func (m *EngineMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// RecordLiquidation increments the liquidation counters for an asset.
func (m *EngineMetrics) RecordLiquidation(asset string, seized *big.Int) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	m.liquidations.WithLabelValues(label).Inc()
	if v := bigToFloat(seized); v > 0 {
		m.seizedValue.WithLabelValues(label).Add(v)
	}
}

// RecordPool updates the debt pool gauges.
func (m *EngineMetrics) RecordPool(totalShares, marketDebt, debtWithMarkup *big.Int) {
	if m == nil {
		return
	}
	m.poolShares.Set(bigToFloat(totalShares))
	m.poolDebt.Set(bigToFloat(marketDebt))
	m.poolMarkupDebt.Set(bigToFloat(debtWithMarkup))
}

// SetPause toggles the pause_engaged gauge.
func (m *EngineMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
