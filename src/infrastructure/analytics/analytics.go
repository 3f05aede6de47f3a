// Package analytics emits product events from the generation pipeline.
// Events are always logged; when a publisher is configured they are also
// published to the analytics topic for downstream consumers.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"nutriplan/src/infrastructure/log"
)

const Topic = "analytics"

const (
	EventQuestionnaireCompleted = "questionnaire_completed"
	EventPlanQueued             = "plan_queued"
	EventPlanReady              = "plan_ready"
	EventExportFailed           = "export_failed"
)

type Tracker struct {
	publisher message.Publisher
}

// NewTracker creates an event tracker. A nil publisher is valid and
// results in log-only tracking.
func NewTracker(publisher message.Publisher) *Tracker {
	return &Tracker{publisher: publisher}
}

// Track records one event. Publishing failures are logged and swallowed;
// analytics must never fail the operation being tracked.
func (t *Tracker) Track(event string, fields map[string]interface{}) {
	keysAndValues := make([]interface{}, 0, len(fields)*2+2)
	keysAndValues = append(keysAndValues, "event", event)
	for k, v := range fields {
		keysAndValues = append(keysAndValues, k, v)
	}
	log.Info("analytics.event", keysAndValues...)

	if t.publisher == nil {
		return
	}

	payload := map[string]interface{}{
		"event": event,
		"at":    time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error(err, "failed to marshal analytics event", "event", event)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := t.publisher.Publish(Topic, msg); err != nil {
		log.Error(err, "failed to publish analytics event", "event", event)
	}
}
