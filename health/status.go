// Package health tracks per-component health and aggregates it into a
// process-level status served next to the metrics endpoint.
package health

import (
	"regexp"
	"time"
)

// Level is the health level of a component or the whole process.
type Level string

const (
	Healthy   Level = "healthy"
	Degraded  Level = "degraded"
	Unhealthy Level = "unhealthy"
)

// Status is the health report of one component at one point in time.
type Status struct {
	Component   string    `json:"component"`
	Level       Level     `json:"level"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// OK reports whether the component is fully healthy.
func (s Status) OK() bool {
	return s.Level == Healthy
}

// NewStatus builds a status with the current timestamp. The message is
// sanitized so that feed URLs and credentials never leak into the
// health endpoint.
func NewStatus(component string, level Level, message string) Status {
	return Status{
		Component: component,
		Level:     level,
		Message:   Sanitize(message),
		Timestamp: time.Now(),
	}
}

// Aggregate folds sub-statuses into one status. Any unhealthy
// sub-status makes the aggregate unhealthy; otherwise any degraded
// sub-status makes it degraded.
func Aggregate(component string, subs []Status) Status {
	level := Healthy
	message := "all components healthy"
	for _, sub := range subs {
		switch sub.Level {
		case Unhealthy:
			level = Unhealthy
			message = "one or more components unhealthy"
		case Degraded:
			if level == Healthy {
				level = Degraded
				message = "one or more components degraded"
			}
		}
	}
	if len(subs) == 0 {
		message = "no components registered"
	}

	agg := NewStatus(component, level, message)
	agg.SubStatuses = make([]Status, len(subs))
	copy(agg.SubStatuses, subs)
	return agg
}

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls)://\S+`)
	pathRegex       = regexp.MustCompile(`/[a-zA-Z0-9/_.-]{2,}`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Sanitize strips URLs, file paths, addresses and credential-looking
// fragments from a message before it is exposed over HTTP. Error text
// from feed fetches routinely embeds the feed URL.
func Sanitize(message string) string {
	if message == "" {
		return ""
	}
	message = urlRegex.ReplaceAllString(message, "[URL]")
	message = credentialRegex.ReplaceAllString(message, "[REDACTED]")
	message = ipAddrRegex.ReplaceAllString(message, "[IP]")
	message = pathRegex.ReplaceAllString(message, "[PATH]")
	return message
}
