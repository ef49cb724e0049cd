package gateway

import (
	"log/slog"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
	"github.com/tinywideclouds/pushgate/internal/telemetry"
)

// TelemetryObserver adapts dispatch.Observer onto a telemetry.Sink, logging
// operator-attention outcomes (spec §7's PermanentConfig classification) at
// ERROR with a distinctive marker.
type TelemetryObserver struct {
	sink   telemetry.Sink
	logger *slog.Logger
}

func NewTelemetryObserver(sink telemetry.Sink, logger *slog.Logger) *TelemetryObserver {
	return &TelemetryObserver{sink: sink, logger: logger}
}

func (o *TelemetryObserver) ObserveOutcome(pushkin string, outcome dispatch.Outcome) {
	o.sink.DeviceDispatched(pushkin)
	o.sink.Outcome(pushkin, outcome.String())
	if outcome.IsOperatorAttention() {
		o.logger.Error("pushkin misconfiguration suspected", "marker", "OPERATOR_ATTENTION", "pushkin", pushkin, "reason", outcome.Reason())
	}
}

func (o *TelemetryObserver) ObserveIgnored(appID string) {
	o.logger.Debug("no pushkin registered for app_id, ignoring device", "app_id", appID)
}
