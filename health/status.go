package health

import (
	"regexp"
	"time"
)

// Health states, worst last
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health of the exporter or one of its checks
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Traffic     *Traffic  `json:"traffic,omitempty"`
}

// Traffic summarises the status messages the tracker has seen
type Traffic struct {
	Uptime            time.Duration `json:"uptime"`
	MessagesProcessed int64         `json:"messages_processed"`
	MessagesRejected  int64         `json:"messages_rejected"`
	LastMessage       time.Time     `json:"last_message,omitempty"`
}

func newStatus(component, state, message string, at time.Time) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: at,
	}
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

var severity = map[string]int{
	StateHealthy:   0,
	StateDegraded:  1,
	StateUnhealthy: 2,
}

// aggregate takes the worst state among checks.
func aggregate(component string, checks []Status, at time.Time) Status {
	worst := StateHealthy
	for _, c := range checks {
		if severity[c.Status] > severity[worst] {
			worst = c.Status
		}
	}

	message := "receiving status messages"
	switch worst {
	case StateDegraded:
		message = "one or more checks are degraded"
	case StateUnhealthy:
		message = "one or more checks are unhealthy"
	}

	status := newStatus(component, worst, message, at)
	status.SubStatuses = append([]Status(nil), checks...)
	return status
}

// redactions run in order: credentials first so a URL carrying userinfo is
// still caught, then URLs, then what is left of hosts and paths.
var redactions = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`(?i)\b(api_?key|password|passwd|token|secret|credential)s?\s*[:=]\s*[^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)\b(https?|wss?|nats|tls)://[^\s"']+`), "[URL]"},
	{regexp.MustCompile(`[A-Za-z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`(^|[\s"'(])/[\w./-]+`), "${1}[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

// sanitizeErrorMessage strips credentials, URLs, paths, addresses and ports
// from error text before it is served on /health.
func sanitizeErrorMessage(msg string) string {
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.replace)
	}
	return msg
}
