package replication

import (
	"errors"
	"strings"
	"testing"

	"ringkv/internal/address"
	"ringkv/internal/ring"
)

func TestMessage_EncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"create", Message{TransID: 1, From: address.FromID(1, 0), Type: Create, Key: "a", Value: "1", Role: Primary}},
		{"read reply miss", Message{TransID: 9, From: address.FromID(3, 8080), Type: ReadReply, Key: "a", Role: Tertiary}},
		{"reply", Message{TransID: 42, From: address.FromID(2, 0), Type: Reply, Key: "k", Role: Secondary, Success: true}},
		{"delimiters in payload", Message{TransID: 7, From: address.FromID(4, 0), Type: Update, Key: "a::b", Value: "x y::z%", Role: Secondary}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage(tt.msg.Encode())
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.msg {
				t.Errorf("Expected %+v, got %+v", tt.msg, got)
			}
		})
	}
}

func TestMessage_TextLayout(t *testing.T) {
	m := Message{TransID: 5, From: address.FromID(1, 0), Type: Delete, Key: "k", Role: Primary}
	want := "5::0.0.0.1:0::DELETE::k::::PRIMARY::0"
	if got := string(m.Encode()); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	valid := string(Message{TransID: 1, From: address.FromID(1, 0), Type: Read, Key: "k", Role: Primary}.Encode())
	fields := strings.Split(valid, delimiter)

	replace := func(i int, v string) string {
		f := append([]string(nil), fields...)
		f[i] = v
		return strings.Join(f, delimiter)
	}

	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"too few fields", strings.Join(fields[:5], delimiter)},
		{"too many fields", valid + delimiter + "x"},
		{"bad transaction id", replace(0, "abc")},
		{"bad address", replace(1, "nowhere")},
		{"unknown type", replace(2, "MERGE")},
		{"bad escape", replace(3, "%zz")},
		{"unknown role", replace(5, "QUATERNARY")},
		{"bad flag", replace(6, "yes")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.data))
			if !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("Expected ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestMessageType_IsRequest(t *testing.T) {
	for _, mt := range []MessageType{Create, Read, Update, Delete} {
		if !mt.IsRequest() {
			t.Errorf("%s should be a request", mt)
		}
	}
	for _, mt := range []MessageType{Reply, ReadReply} {
		if mt.IsRequest() {
			t.Errorf("%s should not be a request", mt)
		}
	}
}

func TestReplicasForKey(t *testing.T) {
	r := ring.NewRing(64)
	r.SetNodes([]address.Address{address.FromID(1, 0), address.FromID(2, 0)})
	if got := ReplicasForKey(r, "a"); got != nil {
		t.Errorf("Expected nil for a two-member ring, got %v", got)
	}

	r.SetNodes([]address.Address{address.FromID(1, 0), address.FromID(2, 0), address.FromID(3, 0), address.FromID(4, 0)})
	got := ReplicasForKey(r, "a")
	nodes := r.PreferenceList("a")
	if len(got) != ring.ReplicationFactor {
		t.Fatalf("Expected 3 replicas, got %d", len(got))
	}
	for i := range got {
		if got[i] != nodes[i].Addr {
			t.Errorf("Role %d: expected %s, got %s", i, nodes[i].Addr, got[i])
		}
	}
}
