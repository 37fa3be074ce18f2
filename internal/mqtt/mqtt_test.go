package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/neuromod/internal/session"
)

func testEvent(t session.EventType) session.Event {
	return session.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Type:      t,
		State:     session.StateRunning,
		SessionID: "abc",
		Config: session.Config{
			AudioFrequencyHz: 7000,
			SessionDuration:  time.Minute,
			StimulusDelay:    10 * time.Millisecond,
		},
		Stats: session.Stats{Pairs: 4, Bursts: 3, PortFailures: 1},
	}
}

func TestFormatPayload(t *testing.T) {
	payload, err := FormatPayload(testEvent(session.EventSessionStarted))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Session
	if s.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("timestamp: got %s", s.Timestamp)
	}
	if s.Event != "SESSION_STARTED" {
		t.Errorf("event: got %s", s.Event)
	}
	if s.State != "RUNNING" {
		t.Errorf("state: got %s", s.State)
	}
	if s.SessionID != "abc" {
		t.Errorf("session_id: got %s", s.SessionID)
	}
	if s.Config != (ConfigPayload{FrequencyHz: 7000, DurationS: 60, TENSDelayMs: 10}) {
		t.Errorf("config: got %+v", s.Config)
	}
	if s.Pairs != 4 || s.Bursts != 3 || s.PortFailures != 1 {
		t.Errorf("counters: got pairs=%d bursts=%d failures=%d", s.Pairs, s.Bursts, s.PortFailures)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	payload, err := FormatPayload(testEvent(session.EventSessionCompleted))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"session":{"timestamp":"2026-02-02T22:18:12Z","event":"SESSION_COMPLETED","session_id":"abc","state":"RUNNING",` +
		`"config":{"frequency_hz":7000,"duration_s":60,"tens_delay_ms":10},"pairs":4,"bursts":3,"port_failures":1}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadFaultReason(t *testing.T) {
	e := testEvent(session.EventFault)
	e.State = session.StateFault
	e.Reason = "watchdog"

	payload, err := FormatPayload(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Session.Reason != "watchdog" {
		t.Errorf("reason: got %q", parsed.Session.Reason)
	}
	if parsed.Session.State != "FAULT" {
		t.Errorf("state: got %s", parsed.Session.State)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	e := testEvent(session.EventSessionStopped)
	e.Timestamp = time.Date(2026, 2, 2, 17, 0, 0, 0, loc)

	payload, err := FormatPayload(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Session.Timestamp != "2026-02-02T22:00:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Session.Timestamp)
	}
}

func TestTopics(t *testing.T) {
	if Topic != "neuromod/session/events" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "neuromod/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadReconnectedOmitsReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"system":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "ignored", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("got %s, want raw payload", payload)
	}
}

func TestFakePublisherRecordsEvents(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(testEvent(session.EventSessionStarted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Publish(testEvent(session.EventSessionCompleted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := f.EventTypes()
	if len(got) != 2 || got[0] != session.EventSessionStarted || got[1] != session.EventSessionCompleted {
		t.Errorf("event types: got %v", got)
	}
	if len(f.Payloads) != 2 {
		t.Errorf("expected 2 payloads, got %d", len(f.Payloads))
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("down")
	f.PublishSystemError = errors.New("down")

	if err := f.Publish(testEvent(session.EventFault)); err == nil {
		t.Error("expected Publish error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected PublishSystem error")
	}
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherRecordsRetainedFlag(t *testing.T) {
	f := NewFakePublisher()
	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true})
	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "HEARTBEAT"})

	if names := f.SystemEventNames(); len(names) != 2 || names[0] != "STARTUP" || names[1] != "HEARTBEAT" {
		t.Fatalf("system events: got %v", names)
	}
	if !f.SystemEvents[0].Retained {
		t.Error("first event should have Retained=true")
	}
	if f.SystemEvents[1].Retained {
		t.Error("second event should have Retained=false")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(testEvent(session.EventSessionStarted))
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Connected = true
	f.Close()

	f.Reset()

	if len(f.Events) != 0 || len(f.SystemEvents) != 0 || len(f.Payloads) != 0 || len(f.SystemPayloads) != 0 {
		t.Error("Reset should clear recorded events")
	}
	if f.Closed || f.IsConnected() {
		t.Error("Reset should clear Closed and Connected")
	}
}
