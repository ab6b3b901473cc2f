package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boardhub"

var (
	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Current number of open websocket connections",
	})

	rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Current number of live whiteboard rooms",
	})

	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Inbound envelopes by type; malformed frames are counted as type \"invalid\"",
	}, []string{"type"})

	broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Room fan-outs by envelope type",
	}, []string{"type"})

	deliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_failures_total",
		Help:      "Per-recipient send failures during fan-out",
	})

	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_messages_total",
		Help:      "Frames discarded from full outbound queues",
	})

	joinFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "join_failures_total",
		Help:      "Rejected join_whiteboard attempts by reason",
	}, []string{"reason"})

	mutationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_rejected_total",
		Help:      "Content changes refused because the sender's role is read-only, by type",
	}, []string{"type"})

	statusWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_write_failures_total",
		Help:      "Failed best-effort presence status writes by sink",
	}, []string{"sink"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func ConnectionOpened() { connections.Inc() }
func ConnectionClosed() { connections.Dec() }
func RoomOpened()       { rooms.Inc() }
func RoomClosed()       { rooms.Dec() }

func MessageReceived(msgType string) { messagesReceived.WithLabelValues(msgType).Inc() }
func Broadcast(msgType string)       { broadcasts.WithLabelValues(msgType).Inc() }
func DeliveryFailure()               { deliveryFailures.Inc() }
func MessageDropped()                { droppedMessages.Inc() }
func JoinFailure(reason string)      { joinFailures.WithLabelValues(reason).Inc() }
func StatusWriteFailure(sink string) { statusWriteFailures.WithLabelValues(sink).Inc() }
func MutationRejected(msgType string) { mutationsRejected.WithLabelValues(msgType).Inc() }

// Collectors exposed for assertions in tests.
var (
	DeliveryFailures    = deliveryFailures
	DroppedMessages     = droppedMessages
	JoinFailures        = joinFailures
	MutationsRejected   = mutationsRejected
	StatusWriteFailures = statusWriteFailures
)

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working behind the middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		r.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("boardhub metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request count and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
