// Package protocol defines the JSON envelope exchanged over the signaling
// WebSocket and the typed payloads it carries.
//
// Every WebSocket text message is exactly one Envelope. The payload field is
// an opaque string whose interpretation depends on the type tag; for several
// tags it is itself a stringified JSON document.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Type tags the envelope. Unknown tags are preserved verbatim so routers can
// log them without losing information.
type Type string

const (
	TypeRegister        Type = "register"
	TypePeerList        Type = "peer_list"
	TypeOffer           Type = "offer"
	TypeAnswer          Type = "answer"
	TypeCandidate       Type = "candidate"
	TypeConnect         Type = "connect"
	TypeError           Type = "error"
	TypeChat            Type = "chat"
	TypeRelayAuth       Type = "relay_auth"
	TypeRelayAuthResult Type = "relay_auth_result"
	TypeRelayConnect    Type = "relay_connect"
	TypeRelayData       Type = "relay_data"
	TypeRelayDisconnect Type = "relay_disconnect"
)

// Known reports whether t is one of the protocol's defined tags.
func (t Type) Known() bool {
	switch t {
	case TypeRegister, TypePeerList, TypeOffer, TypeAnswer, TypeCandidate,
		TypeConnect, TypeError, TypeChat, TypeRelayAuth, TypeRelayAuthResult,
		TypeRelayConnect, TypeRelayData, TypeRelayDisconnect:
		return true
	}
	return false
}

// Envelope is the outer message. All fields are strings; fields absent from
// the wire decode to "".
type Envelope struct {
	Type    Type   `json:"type"`
	From    string `json:"from"`
	To      string `json:"to"`
	Payload string `json:"payload"`
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire message into an Envelope. A missing or unknown type
// tag is an error; missing from/to/payload are not.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	if !e.Type.Known() {
		return Envelope{}, fmt.Errorf("decode envelope: unknown type %q", e.Type)
	}
	return e, nil
}

// Description is the offer/answer payload.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (d Description) Encode() string {
	b, _ := json.Marshal(d)
	return string(b)
}

func DecodeDescription(payload string) (Description, error) {
	var d Description
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return Description{}, fmt.Errorf("decode description: %w", err)
	}
	if d.SDP == "" {
		return Description{}, fmt.Errorf("decode description: missing sdp")
	}
	return d, nil
}

// Candidate is the ICE candidate payload. Mid is the media stream
// identification tag the candidate belongs to.
type Candidate struct {
	Candidate string `json:"candidate"`
	Mid       string `json:"mid"`
}

func (c Candidate) Encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

func DecodeCandidate(payload string) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	return c, nil
}

// PeerList is the payload of a peer_list response: the identifiers currently
// registered, excluding the recipient.
func EncodePeerList(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func DecodePeerList(payload string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(payload), &ids); err != nil {
		return nil, fmt.Errorf("decode peer list: %w", err)
	}
	return ids, nil
}

// RelayAuthResult is the payload of a relay_auth_result envelope.
type RelayAuthResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r RelayAuthResult) Encode() string {
	b, _ := json.Marshal(r)
	return string(b)
}

func DecodeRelayAuthResult(payload string) (RelayAuthResult, error) {
	var r RelayAuthResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return RelayAuthResult{}, fmt.Errorf("decode relay auth result: %w", err)
	}
	return r, nil
}

// RelayData frames an application payload carried over the signaling
// transport. The transport is text-framed, so binary payloads are base64
// encoded (standard alphabet, '=' padding).
type RelayData struct {
	IsBinary bool   `json:"is_binary"`
	Data     string `json:"data"`
}

func NewTextRelayData(text string) RelayData {
	return RelayData{IsBinary: false, Data: text}
}

func NewBinaryRelayData(data []byte) RelayData {
	return RelayData{IsBinary: true, Data: base64.StdEncoding.EncodeToString(data)}
}

// Bytes returns the framed payload as raw bytes, decoding base64 for binary
// frames.
func (r RelayData) Bytes() ([]byte, error) {
	if !r.IsBinary {
		return []byte(r.Data), nil
	}
	b, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, fmt.Errorf("decode relay data: %w", err)
	}
	return b, nil
}

func (r RelayData) Encode() string {
	b, _ := json.Marshal(r)
	return string(b)
}

func DecodeRelayData(payload string) (RelayData, error) {
	var r RelayData
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return RelayData{}, fmt.Errorf("decode relay data: %w", err)
	}
	return r, nil
}
