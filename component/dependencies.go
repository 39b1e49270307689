package component

import (
	"log/slog"

	"github.com/CERT-Polska/n6-sub011/metric"
	"github.com/CERT-Polska/n6-sub011/natsclient"
)

// Dependencies provides the external services components need. Components
// receive this structure at construction instead of individual fields.
type Dependencies struct {
	NATSClient      *natsclient.Client      // bus client, always required
	MetricsRegistry *metric.MetricsRegistry // can be nil to disable metrics
	Logger          *slog.Logger            // can be nil, defaults to slog.Default()
}

// GetLogger returns the configured logger or the default one.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger carrying component context.
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
