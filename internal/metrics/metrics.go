package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_http_requests_total",
			Help: "HTTP requests by method and status code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_http_request_duration_seconds",
			Help:    "HTTP request latency by method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoriesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_stories_created_total",
		Help: "Stories created, with their preview generated.",
	})

	StoriesPurchased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_stories_purchased_total",
		Help: "Successful purchase calls, repeats included.",
	})

	UploadsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_uploads_rejected_total",
			Help: "Rejected character photo uploads by reason.",
		},
		[]string{"reason"},
	)

	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_chat_messages_total",
			Help: "Chat messages posted by author kind.",
		},
		[]string{"author"},
	)

	ContactSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_contact_submissions_total",
		Help: "Contact form submissions received.",
	})

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by limiter name.",
		},
		[]string{"limiter"},
	)
)

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (r *codeRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *codeRecorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// WithHTTPMetrics counts requests and observes their latency.
func WithHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &codeRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		code := rec.code
		if code == 0 {
			code = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
