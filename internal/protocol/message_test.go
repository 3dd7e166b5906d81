package protocol

import (
	"reflect"
	"testing"
)

func TestControlMessages(t *testing.T) {
	tests := []struct {
		name string
		got  Message
		want Message
	}{
		{"close", CloseMessage("room:1"), Message{Topic: "room:1", Event: "phx_close", Payload: map[string]any{}}},
		{"error", ErrorMessage("room:1"), Message{Topic: "room:1", Event: "phx_error", Payload: map[string]any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("got %#v, want %#v", tt.got, tt.want)
			}
		})
	}
}

func TestMessageReplies(t *testing.T) {
	msg := Message{Topic: "room:1", Event: "new_msg", Ref: "5"}

	ok := msg.OK(map[string]any{"a": 1})
	if ok.Ref != "5" || ok.Topic != "room:1" || ok.Status != StatusOK {
		t.Errorf("unexpected ok reply: %+v", ok)
	}
	er := msg.Error(Reason("nope"))
	if er.Status != StatusError || er.Payload.(map[string]any)["reason"] != "nope" {
		t.Errorf("unexpected error reply: %+v", er)
	}
}

func TestIsHeartbeat(t *testing.T) {
	if !(Message{Topic: "phoenix", Event: "heartbeat"}).IsHeartbeat() {
		t.Error("phoenix/heartbeat should be a heartbeat")
	}
	if (Message{Topic: "room:1", Event: "heartbeat"}).IsHeartbeat() {
		t.Error("heartbeat outside the phoenix topic is not a heartbeat")
	}
}

func TestDisconnectBroadcast(t *testing.T) {
	got := DisconnectBroadcast("user_socket:ana")
	want := Broadcast{Topic: "user_socket:ana", Event: "disconnect", Payload: map[string]any{}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}
