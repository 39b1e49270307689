package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStatusSanitizesMessage(t *testing.T) {
	status := NewStatus("collector.abuse-ch.feodotracker", Unhealthy,
		"fetch https://feodotracker.abuse.ch/downloads/ipblocklist.csv: connection refused")
	assert.Equal(t, Unhealthy, status.Level)
	assert.NotContains(t, status.Message, "feodotracker.abuse.ch")
	assert.Contains(t, status.Message, "[URL]")
	assert.False(t, status.Timestamp.IsZero())
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "schema missing", "schema missing"},
		{"http url", "GET https://feed.example/list failed", "GET [URL] failed"},
		{"nats url", "dial nats://bus:4222 refused", "dial [URL] refused"},
		{"credential", "auth password=hunter2 rejected", "auth [REDACTED] rejected"},
		{"ip address", "dial 10.0.0.5 timed out", "dial [IP] timed out"},
		{"file path", "open /etc/n6/feeds.yaml denied", "open [PATH] denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestAggregate(t *testing.T) {
	healthy := NewStatus("a", Healthy, "")
	degraded := NewStatus("b", Degraded, "feed stale")
	unhealthy := NewStatus("c", Unhealthy, "bus lost")

	tests := []struct {
		name string
		subs []Status
		want Level
	}{
		{"all healthy", []Status{healthy, healthy}, Healthy},
		{"one degraded", []Status{healthy, degraded}, Degraded},
		{"one unhealthy", []Status{healthy, degraded, unhealthy}, Unhealthy},
		{"empty", nil, Healthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregate("n6parser", tt.subs)
			assert.Equal(t, tt.want, agg.Level)
			assert.Len(t, agg.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregateCopiesSubStatuses(t *testing.T) {
	subs := []Status{NewStatus("a", Healthy, "")}
	agg := Aggregate("proc", subs)
	subs[0].Level = Unhealthy
	assert.Equal(t, Healthy, agg.SubStatuses[0].Level)
}
