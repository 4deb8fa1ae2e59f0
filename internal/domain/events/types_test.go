package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBaseEvent_Type(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
	}{
		{"queue_status_changed", EventTypeQueueStatusChanged},
		{"queue_entry_changed", EventTypeQueueEntryChanged},
		{"process_status_changed", EventTypeProcessStatusChanged},
		{"process_amount_changed", EventTypeProcessAmountChanged},
		{"generic", EventTypeGeneric},
		{"timer_fired", EventTypeTimerFired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewEvent(tt.eventType, ClassEvent, "", nil)

			if event.Type() != tt.eventType {
				t.Errorf("Type() = %v, want %v", event.Type(), tt.eventType)
			}
		})
	}
}

func TestBaseEvent_Timestamp(t *testing.T) {
	before := time.Now().UTC()
	event := NewGenericEvent(ClassInformation, "hello")
	after := time.Now().UTC()

	ts := event.Timestamp()

	if ts.Before(before) {
		t.Errorf("Timestamp() = %v, should be >= %v", ts, before)
	}
	if ts.After(after) {
		t.Errorf("Timestamp() = %v, should be <= %v", ts, after)
	}
}

func TestBaseEvent_ToJSON(t *testing.T) {
	event := NewQueueStatusChangedEvent("dev-1", QueueStatusWaiting, QueueStatusHeld, 2, 10)

	jsonBytes, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &parsed); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}

	if parsed["event"] != "queue_status_changed" {
		t.Errorf("event = %v, want queue_status_changed", parsed["event"])
	}
	if parsed["class"] != "Event" {
		t.Errorf("class = %v, want Event", parsed["class"])
	}
	if parsed["device_id"] != "dev-1" {
		t.Errorf("device_id = %v, want dev-1", parsed["device_id"])
	}

	payload, ok := parsed["payload"].(map[string]interface{})
	if !ok {
		t.Fatal("payload should be an object")
	}
	if payload["status"] != "Held" {
		t.Errorf("payload.status = %v, want Held", payload["status"])
	}
	if payload["previous_status"] != "Waiting" {
		t.Errorf("payload.previous_status = %v, want Waiting", payload["previous_status"])
	}
}

func TestClass_Valid(t *testing.T) {
	for _, c := range []Class{ClassInformation, ClassWarning, ClassError, ClassEvent} {
		if !c.Valid() {
			t.Errorf("%q should be valid", c)
		}
	}
	if Class("Fatal").Valid() {
		t.Error("unknown class should not be valid")
	}
}

func TestQueueStatus_AcceptsEntries(t *testing.T) {
	tests := []struct {
		status QueueStatus
		want   bool
	}{
		{QueueStatusWaiting, true},
		{QueueStatusRunning, true},
		{QueueStatusHeld, true},
		{QueueStatusFull, false},
		{QueueStatusBlocked, false},
		{QueueStatusClosed, false},
	}

	for _, tt := range tests {
		if got := tt.status.AcceptsEntries(); got != tt.want {
			t.Errorf("%s.AcceptsEntries() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestAmountOf(t *testing.T) {
	amount, ok := AmountOf(NewProcessAmountChangedEvent("dev", "1", 15, 100))
	if !ok || amount != 15 {
		t.Errorf("AmountOf() = %d, %v; want 15, true", amount, ok)
	}

	if _, ok := AmountOf(NewGenericEvent(ClassError, "boom")); ok {
		t.Error("AmountOf() should be false for a generic event")
	}
	if _, ok := AmountOf(nil); ok {
		t.Error("AmountOf(nil) should be false")
	}
}

func TestTimerTarget(t *testing.T) {
	url, channel, ok := TimerTarget(NewTimerFiredEvent("http://a/b", "q1"))
	if !ok {
		t.Fatal("TimerTarget() should succeed for a timer event")
	}
	if url != "http://a/b" || channel != "q1" {
		t.Errorf("TimerTarget() = %q, %q", url, channel)
	}

	if _, _, ok := TimerTarget(NewGenericEvent(ClassEvent, "x")); ok {
		t.Error("TimerTarget() should be false for non-timer events")
	}
}

func TestNewProcessStatusChangedEvent_Comment(t *testing.T) {
	e := NewProcessStatusChangedEvent("dev", DeviceStatusIdle, DeviceStatusDown, "", "maintenance")

	if e.Class() != ClassWarning {
		t.Errorf("Class() = %v, want Warning", e.Class())
	}
	if e.Description() != "device status Idle -> Down: maintenance" {
		t.Errorf("Description() = %q", e.Description())
	}
}
