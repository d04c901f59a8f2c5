package providers

import (
	"time"
)

// Status is the coarse availability of a provider as observed by probes
// and operations.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// degradedThreshold is the consecutive failure count at which a
// provider is demoted to Degraded and only used as a fallback.
const degradedThreshold = 3

// lastErrorLimit caps stored error text so snapshots stay readable.
const lastErrorLimit = 120

// Health is the mutable scorecard of one provider. It is updated by the
// registry as a byproduct of probes and operation outcomes, always
// under the provider's lock.
type Health struct {
	Status              Status        `json:"status"`
	Latency             time.Duration `json:"latency"`
	SuccessRate         float64       `json:"success_rate"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalRequests       uint64        `json:"total_requests"`
	FailedRequests      uint64        `json:"failed_requests"`
	LastSuccess         time.Time     `json:"last_success,omitzero"`
	LastError           string        `json:"last_error,omitempty"`
}

func newHealth() Health {
	return Health{
		Status:      StatusUnknown,
		SuccessRate: 1,
	}
}

func (h *Health) recordSuccess(latency time.Duration) {
	h.Status = StatusHealthy
	h.Latency = latency
	h.LastSuccess = time.Now()
	h.LastError = ""
	h.ConsecutiveFailures = 0
	h.TotalRequests++
	h.refreshSuccessRate()
}

// recordProbeFailure handles liveness check failures, including client
// construction errors. The provider drops to Failed outright; after
// enough consecutive failures it is held at Degraded so it remains
// eligible as a last-resort fallback.
func (h *Health) recordProbeFailure(err error) {
	h.Status = StatusFailed
	h.noteFailure(err)
	if h.ConsecutiveFailures >= degradedThreshold {
		h.Status = StatusDegraded
	}
}

// recordOperationFailure handles failures of real operations routed
// through the provider. A single failed call does not exclude the
// provider from selection; repeated ones demote it to Degraded.
func (h *Health) recordOperationFailure(err error) {
	h.noteFailure(err)
	if h.ConsecutiveFailures >= degradedThreshold {
		h.Status = StatusDegraded
	}
}

func (h *Health) noteFailure(err error) {
	msg := err.Error()
	if len(msg) > lastErrorLimit {
		msg = msg[:lastErrorLimit]
	}
	h.LastError = msg
	h.ConsecutiveFailures++
	h.TotalRequests++
	h.FailedRequests++
	h.refreshSuccessRate()
}

func (h *Health) refreshSuccessRate() {
	if h.TotalRequests == 0 {
		return
	}
	h.SuccessRate = float64(h.TotalRequests-h.FailedRequests) / float64(h.TotalRequests)
}

// selectable reports whether the provider may serve traffic at all.
func (h *Health) selectable() bool {
	return h.Status == StatusHealthy || h.Status == StatusDegraded
}
