package mqtt

import (
	"github.com/rs/zerolog/log"
	"github.com/sweeney/climate-controller/internal/logic"
)

// LogPublisher writes notifications to the process log. It is the sink used
// when no broker is configured.
type LogPublisher struct{}

// PublishReport logs the text report.
func (LogPublisher) PublishReport(r Report) error {
	log.Info().Str("event", r.Event).Str("status", string(r.Status)).Msg("\n" + FormatText(r))
	return nil
}

// PublishAlert logs the alert at error level.
func (LogPublisher) PublishAlert(event logic.Event) error {
	log.Error().
		Str("type", string(event.Type)).
		Float64("temperature", event.Temperature).
		Float64("low", event.Low).
		Float64("high", event.High).
		Msg(event.Detail)
	return nil
}

// PublishSystem logs the lifecycle event.
func (LogPublisher) PublishSystem(event SystemEvent) error {
	log.Info().Str("event", event.Event).Str("reason", event.Reason).Msg("system event")
	return nil
}

// Close is a no-op.
func (LogPublisher) Close() error { return nil }
