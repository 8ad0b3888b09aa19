package health

import (
	"encoding/json"
	"strings"
)

// Status is the health label for one service check.
type Status string

const (
	StatusHealthy          Status = "HEALTHY"
	StatusDegraded         Status = "DEGRADED"
	StatusDown             Status = "DOWN"
	StatusEndpointMismatch Status = "ENDPOINT_MISMATCH"
	StatusServerError      Status = "SERVER_ERROR"
	StatusUnknown          Status = "UNKNOWN" // Not checked yet
)

// OK reports whether s counts as a passing check.
func (s Status) OK() bool {
	return s == StatusHealthy
}

// badBodyStatuses are "status" values in a 2xx body that downgrade the check.
var badBodyStatuses = map[string]bool{
	"degraded":  true,
	"unhealthy": true,
	"down":      true,
	"error":     true,
}

// Classify maps a health endpoint response to a Status. statusCode 0 means
// no response was received.
func Classify(statusCode int, body []byte) Status {
	switch {
	case statusCode == 0:
		return StatusDown
	case statusCode >= 200 && statusCode < 300:
		if bodyReportsFailure(body) {
			return StatusDegraded
		}
		return StatusHealthy
	case statusCode == 404:
		return StatusEndpointMismatch
	case statusCode >= 500:
		return StatusServerError
	default:
		return StatusDegraded
	}
}

func bodyReportsFailure(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return badBodyStatuses[strings.ToLower(strings.TrimSpace(payload.Status))]
}
