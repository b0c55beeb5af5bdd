package log

import (
	"testing"
	"time"
)

func TestEventRoundTrip(t *testing.T) {
	code := 42
	tests := []struct {
		name  string
		event Event
	}{
		{
			name: "record event",
			event: Event{
				Timestamp: time.Now().UTC(),
				SessionID: "0e0f0a0b-0000-4000-8000-000000000001",
				Direction: DirectionOut,
				Layer:     LayerTransport,
				Category:  CategoryMessage,
				Record:    &RecordEvent{Size: 57, Epoch: 1},
			},
		},
		{
			name: "handshake event",
			event: Event{
				Timestamp: time.Now().UTC(),
				SessionID: "s",
				Direction: DirectionOut,
				Layer:     LayerTransport,
				Category:  CategoryHandshake,
				Handshake: &HandshakeEvent{Step: "ClientHello", Iteration: 1},
			},
		},
		{
			name: "message event",
			event: Event{
				Timestamp:  time.Now().UTC(),
				SessionID:  "s",
				Direction:  DirectionIn,
				Layer:      LayerCoAP,
				Category:   CategoryMessage,
				RemoteAddr: "192.168.4.1:49191",
				Message: &MessageEvent{
					MessageID:   2,
					Type:        "ACK",
					Code:        "2.04",
					PayloadSize: 0,
				},
			},
		},
		{
			name: "state change",
			event: Event{
				Timestamp: time.Now().UTC(),
				SessionID: "s",
				Layer:     LayerCommissioner,
				Category:  CategoryState,
				StateChange: &StateChangeEvent{
					Entity:   StateEntityCommissioner,
					OldState: "Connected",
					NewState: "CommissionerActive",
					Reason:   "petition accepted",
				},
			},
		},
		{
			name: "error event",
			event: Event{
				Timestamp: time.Now().UTC(),
				SessionID: "s",
				Layer:     LayerTransport,
				Category:  CategoryError,
				Error: &ErrorEventData{
					Layer:   LayerTransport,
					Message: "handshake step failed",
					Code:    &code,
					Context: "connect",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.event)
			if err != nil {
				t.Fatalf("EncodeEvent failed: %v", err)
			}

			decoded, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}

			if decoded.SessionID != tt.event.SessionID {
				t.Errorf("SessionID = %q, want %q", decoded.SessionID, tt.event.SessionID)
			}
			if decoded.Direction != tt.event.Direction {
				t.Errorf("Direction = %v, want %v", decoded.Direction, tt.event.Direction)
			}
			if decoded.Layer != tt.event.Layer {
				t.Errorf("Layer = %v, want %v", decoded.Layer, tt.event.Layer)
			}
			if decoded.Category != tt.event.Category {
				t.Errorf("Category = %v, want %v", decoded.Category, tt.event.Category)
			}
			if !decoded.Timestamp.Equal(tt.event.Timestamp) {
				t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, tt.event.Timestamp)
			}

			switch {
			case tt.event.Record != nil:
				if decoded.Record == nil || *decoded.Record != *tt.event.Record {
					t.Errorf("Record = %+v, want %+v", decoded.Record, tt.event.Record)
				}
			case tt.event.Handshake != nil:
				if decoded.Handshake == nil || *decoded.Handshake != *tt.event.Handshake {
					t.Errorf("Handshake = %+v, want %+v", decoded.Handshake, tt.event.Handshake)
				}
			case tt.event.Message != nil:
				if decoded.Message == nil || *decoded.Message != *tt.event.Message {
					t.Errorf("Message = %+v, want %+v", decoded.Message, tt.event.Message)
				}
			case tt.event.StateChange != nil:
				if decoded.StateChange == nil || *decoded.StateChange != *tt.event.StateChange {
					t.Errorf("StateChange = %+v, want %+v", decoded.StateChange, tt.event.StateChange)
				}
			case tt.event.Error != nil:
				if decoded.Error == nil || decoded.Error.Message != tt.event.Error.Message {
					t.Errorf("Error = %+v, want %+v", decoded.Error, tt.event.Error)
				}
				if decoded.Error.Code == nil || *decoded.Error.Code != code {
					t.Errorf("Error.Code = %v, want %d", decoded.Error.Code, code)
				}
			}
		})
	}
}

func TestEnumStrings(t *testing.T) {
	if got := DirectionIn.String(); got != "IN" {
		t.Errorf("DirectionIn = %q", got)
	}
	if got := DirectionOut.String(); got != "OUT" {
		t.Errorf("DirectionOut = %q", got)
	}
	if got := LayerTransport.String(); got != "TRANSPORT" {
		t.Errorf("LayerTransport = %q", got)
	}
	if got := LayerCoAP.String(); got != "COAP" {
		t.Errorf("LayerCoAP = %q", got)
	}
	if got := LayerCommissioner.String(); got != "COMMISSIONER" {
		t.Errorf("LayerCommissioner = %q", got)
	}
	if got := Layer(99).String(); got != "UNKNOWN" {
		t.Errorf("unknown layer = %q", got)
	}
	if got := CategoryHandshake.String(); got != "HANDSHAKE" {
		t.Errorf("CategoryHandshake = %q", got)
	}
	if got := StateEntitySession.String(); got != "SESSION" {
		t.Errorf("StateEntitySession = %q", got)
	}
}

func TestLevelAllows(t *testing.T) {
	tests := []struct {
		level    Level
		category Category
		want     bool
	}{
		{LevelNone, CategoryError, false},
		{LevelNone, CategoryMessage, false},
		{LevelError, CategoryError, true},
		{LevelError, CategoryHandshake, false},
		{LevelInfo, CategoryHandshake, true},
		{LevelInfo, CategoryState, true},
		{LevelInfo, CategoryMessage, false},
		{LevelVerbose, CategoryMessage, true},
		{LevelVerbose, CategoryError, true},
	}

	for _, tt := range tests {
		if got := tt.level.Allows(tt.category); got != tt.want {
			t.Errorf("%v.Allows(%v) = %v, want %v", tt.level, tt.category, got, tt.want)
		}
	}
}
