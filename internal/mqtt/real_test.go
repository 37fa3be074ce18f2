package mqtt

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/neuromod/internal/session"
)

type sentMsg struct {
	topic    string
	retained bool
	payload  string
}

type fakeConn struct {
	open         bool
	err          error
	sent         []sentMsg
	disconnected bool
}

func (c *fakeConn) IsConnectionOpen() bool { return c.open }

func (c *fakeConn) publish(topic string, qos byte, retained bool, payload []byte) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, sentMsg{topic: topic, retained: retained, payload: string(payload)})
	return nil
}

func (c *fakeConn) disconnect() { c.disconnected = true }

func newTestPublisher(c *fakeConn) *RealPublisher {
	return &RealPublisher{
		conn: c,
		buf:  newRingBuffer(4),
		now:  func() time.Time { return time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC) },
	}
}

func TestRealPublisherSendsWhenConnected(t *testing.T) {
	c := &fakeConn{open: true}
	p := newTestPublisher(c)

	if err := p.Publish(testEvent(session.EventSessionStarted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishSystem(SystemEvent{Event: "STARTUP", RawPayload: []byte("{}"), Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(c.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(c.sent))
	}
	if c.sent[0].topic != Topic || c.sent[0].retained {
		t.Errorf("session event: got %+v", c.sent[0])
	}
	if c.sent[1].topic != TopicSystem || !c.sent[1].retained {
		t.Errorf("system event: got %+v", c.sent[1])
	}
	if p.Buffered() != 0 {
		t.Errorf("buffered: got %d, want 0", p.Buffered())
	}
}

func TestRealPublisherBuffersWhileOffline(t *testing.T) {
	c := &fakeConn{}
	p := newTestPublisher(c)

	for _, et := range []session.EventType{session.EventSessionStarted, session.EventSessionStopped} {
		if err := p.Publish(testEvent(et)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(c.sent) != 0 {
		t.Fatalf("nothing should be sent while offline, got %d", len(c.sent))
	}
	if p.Buffered() != 2 {
		t.Fatalf("buffered: got %d, want 2", p.Buffered())
	}

	// First connect replays without announcing a reconnection.
	c.open = true
	p.onConnect()

	if len(c.sent) != 2 {
		t.Fatalf("expected 2 replayed messages, got %d", len(c.sent))
	}
	if !strings.Contains(c.sent[0].payload, "SESSION_STARTED") || !strings.Contains(c.sent[1].payload, "SESSION_STOPPED") {
		t.Errorf("replay out of order: %v", c.sent)
	}
	if p.Buffered() != 0 {
		t.Errorf("buffered after replay: got %d", p.Buffered())
	}
}

func TestRealPublisherAnnouncesReconnect(t *testing.T) {
	c := &fakeConn{open: true}
	p := newTestPublisher(c)

	p.onConnect()
	if len(c.sent) != 0 {
		t.Fatalf("first connect should publish nothing, got %v", c.sent)
	}

	p.onConnect()
	if len(c.sent) != 1 {
		t.Fatalf("expected RECONNECTED, got %d messages", len(c.sent))
	}
	want := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if c.sent[0].topic != TopicSystem || c.sent[0].payload != want {
		t.Errorf("got %+v, want %s on %s", c.sent[0], want, TopicSystem)
	}
}

func TestRealPublisherPropagatesPublishError(t *testing.T) {
	c := &fakeConn{open: true, err: errors.New("broken pipe")}
	p := newTestPublisher(c)

	err := p.Publish(testEvent(session.EventFault))
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("got %v, want wrapped broken pipe", err)
	}
}

func TestRealPublisherConnectionState(t *testing.T) {
	c := &fakeConn{}
	p := newTestPublisher(c)
	if p.IsConnected() {
		t.Error("expected disconnected")
	}
	c.open = true
	if !p.IsConnected() {
		t.Error("expected connected")
	}
	p.Close()
	if !c.disconnected {
		t.Error("Close should disconnect")
	}
}
