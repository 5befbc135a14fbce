// Package instrument exposes the relay's operational counters. Failure
// kinds are recorded here and in the audit log only; they are never
// reflected in responses.
package instrument

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decapFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pjdir_decapsulation_failures_total",
			Help: "Number of rejected encapsulated requests by failure kind",
		},
		[]string{"kind"},
	)
	innerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pjdir_inner_requests_total",
			Help: "Number of decapsulated inner requests by operation",
		},
		[]string{"op"},
	)
	mailboxPuts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pjdir_mailbox_puts_total",
			Help: "Number of mailbox slot writes",
		},
	)
	pollDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pjdir_polls_delivered_total",
			Help: "Number of long polls answered with a payload",
		},
	)
	pollTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pjdir_polls_timed_out_total",
			Help: "Number of long polls that reached the server deadline empty",
		},
	)
	backendErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pjdir_backend_errors_total",
			Help: "Number of mailbox backend failures",
		},
	)
	keyRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pjdir_key_rotations_total",
			Help: "Number of key configuration rotations",
		},
	)
)

func init() {
	prometheus.MustRegister(decapFailures)
	prometheus.MustRegister(innerRequests)
	prometheus.MustRegister(mailboxPuts)
	prometheus.MustRegister(pollDelivered)
	prometheus.MustRegister(pollTimedOut)
	prometheus.MustRegister(backendErrors)
	prometheus.MustRegister(keyRotations)
}

// StartPrometheusListener serves the metrics endpoint on addr.
func StartPrometheusListener(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("⚠️  Metrics listener error: %v", err)
		}
	}()
}

// DecapsulationFailure increments the counter for rejected envelopes
func DecapsulationFailure(kind string) {
	decapFailures.With(prometheus.Labels{"kind": kind}).Inc()
}

// InnerRequest increments the counter for routed inner operations
func InnerRequest(op string) {
	innerRequests.With(prometheus.Labels{"op": op}).Inc()
}

// MailboxPut increments the counter for slot writes
func MailboxPut() {
	mailboxPuts.Inc()
}

// PollDelivered increments the counter for answered long polls
func PollDelivered() {
	pollDelivered.Inc()
}

// PollTimedOut increments the counter for empty long polls
func PollTimedOut() {
	pollTimedOut.Inc()
}

// BackendError increments the counter for store failures
func BackendError() {
	backendErrors.Inc()
}

// KeyRotation increments the counter for key rotations
func KeyRotation() {
	keyRotations.Inc()
}
