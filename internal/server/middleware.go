package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
	"github.com/daydreamsai/lucid-agents-sub001/internal/metrics"
	"github.com/daydreamsai/lucid-agents-sub001/internal/payments"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counts and latency per route template so
// task ids do not explode label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

// PaywallGate adapts a paywall into an a2a.Gate. Every priced entrypoint gets
// its own rate-limit group keyed by entrypoint key.
func PaywallGate(pw *payments.Paywall, maxPayments int, window time.Duration) a2a.Gate {
	if pw == nil {
		return nil
	}
	return func(ep a2a.Entrypoint) func(http.Handler) http.Handler {
		return pw.Middleware(payments.Policy{
			Group:       "entrypoint:" + ep.Key,
			Price:       ep.Price,
			Description: ep.Description,
			MaxPayments: maxPayments,
			Window:      window,
		})
	}
}
