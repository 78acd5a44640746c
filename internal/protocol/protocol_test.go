package protocol

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestDecode_MissingFieldsDefaultEmpty(t *testing.T) {
	env, err := Decode([]byte(`{"type":"register"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypeRegister {
		t.Fatalf("type = %q, want register", env.Type)
	}
	if env.From != "" || env.To != "" || env.Payload != "" {
		t.Fatalf("expected empty from/to/payload, got %+v", env)
	}
}

func TestDecode_RejectsUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"bogus"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := Decode([]byte(`{"from":"a"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	in := Envelope{Type: TypeOffer, From: "a", To: "b", Payload: `{"type":"offer","sdp":"v=0"}`}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestRelayData_BinaryRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x00, 0xFF, 0x10},
		bytes.Repeat([]byte{0xAB}, 1024),
	}
	for _, want := range cases {
		frame := NewBinaryRelayData(want)
		if !frame.IsBinary {
			t.Fatal("binary frame not marked binary")
		}
		// Standard alphabet with padding, multiple-of-4 length.
		if len(frame.Data)%4 != 0 {
			t.Fatalf("encoded length %d not multiple of 4", len(frame.Data))
		}
		if _, err := base64.StdEncoding.DecodeString(frame.Data); err != nil {
			t.Fatalf("encoded data not standard base64: %v", err)
		}

		decoded, err := DecodeRelayData(frame.Encode())
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		got, err := decoded.Bytes()
		if err != nil {
			t.Fatalf("decode bytes: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("round trip mismatch: %x != %x", got, want)
		}
	}
}

func TestRelayData_TextPassesThrough(t *testing.T) {
	frame := NewTextRelayData("héllo")
	got, err := frame.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(got) != "héllo" {
		t.Fatalf("text frame mangled: %q", got)
	}
}

func TestRelayData_RejectsBadBase64(t *testing.T) {
	frame := RelayData{IsBinary: true, Data: "!!not base64!!"}
	if _, err := frame.Bytes(); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestPeerList_RoundTrip(t *testing.T) {
	payload := EncodePeerList(nil)
	if payload != "[]" {
		t.Fatalf("nil peer list encoded as %q, want []", payload)
	}
	ids, err := DecodePeerList(EncodePeerList([]string{"alice", "peer_1"}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "peer_1" {
		t.Fatalf("unexpected peer list %v", ids)
	}
}

func TestDecodeDescription_RequiresSDP(t *testing.T) {
	if _, err := DecodeDescription(`{"type":"offer"}`); err == nil {
		t.Fatal("expected error for missing sdp")
	}
	d, err := DecodeDescription(`{"type":"offer","sdp":"v=0"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Type != "offer" || d.SDP != "v=0" {
		t.Fatalf("unexpected description %+v", d)
	}
}
