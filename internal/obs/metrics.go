package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tokendist_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Distribution metrics
var (
	grantsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tokendist",
		Subsystem: "vault",
		Name:      "grants_created_total",
		Help:      "Grants recorded by the vesting vault.",
	})

	tokensGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tokendist",
		Subsystem: "vault",
		Name:      "tokens_granted_total",
		Help:      "Token units placed under vesting.",
	})

	claimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokendist",
		Subsystem: "vault",
		Name:      "claims_total",
		Help:      "Claim attempts by outcome.",
	}, []string{"result"})

	tokensClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tokendist",
		Subsystem: "vault",
		Name:      "tokens_claimed_total",
		Help:      "Token units released to beneficiaries.",
	})

	purchasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokendist",
		Subsystem: "sale",
		Name:      "purchases_total",
		Help:      "Purchase attempts by outcome.",
	}, []string{"result"})

	paymentsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tokendist",
		Subsystem: "sale",
		Name:      "payments_received_total",
		Help:      "Native units accepted by the sale.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			grantsCreated, tokensGranted, claimsTotal, tokensClaimed,
			purchasesTotal, paymentsReceived,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

func ObserveGrantCreated(amount decimal.Decimal) {
	grantsCreated.Inc()
	f, _ := amount.Float64()
	tokensGranted.Add(f)
}

// ObserveClaim counts a claim attempt; amount is ignored unless result is "ok".
func ObserveClaim(result string, amount decimal.Decimal) {
	claimsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		f, _ := amount.Float64()
		tokensClaimed.Add(f)
	}
}

// ObservePurchase counts a purchase attempt; value is ignored unless result is "ok".
func ObservePurchase(result string, value decimal.Decimal) {
	purchasesTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		f, _ := value.Float64()
		paymentsReceived.Add(f)
	}
}

// Instrument wraps next with request, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in known routes so metric label
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "grants":
		return "/v1/grants/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "grants" && parts[3] == "claim":
		return "/v1/grants/:id/claim"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "beneficiaries" && parts[3] == "grants":
		return "/v1/beneficiaries/:addr/grants"
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "balances":
		return "/v1/balances/:addr"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "sale" && parts[2] == "contributions":
		return "/v1/sale/contributions/:addr"
	}
	return p
}

// statusWriter keeps the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
