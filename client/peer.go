package client

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the negotiated channel name; the initiator creates it
// before producing the offer so the SDP carries the channel description.
const DataChannelLabel = "p2p-channel"

type role int

const (
	roleInitiator role = iota
	roleResponder
)

// ChannelState is the data channel lifecycle as reported by PeerInfo.
type ChannelState string

const (
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosed     ChannelState = "closed"
)

// peerSession tracks one remote peer's negotiation and data channel.
//
// pion does not queue remote ICE candidates that arrive before the remote
// description, so the session buffers them and flushes after
// setRemoteDescription.
type peerSession struct {
	id   string
	role role
	pc   *webrtc.PeerConnection

	mu            sync.Mutex
	dc            *webrtc.DataChannel
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit

	// opened is closed when the data channel first transitions to open.
	opened chan struct{}

	connectedOnce    sync.Once
	disconnectedOnce sync.Once
}

func (ps *peerSession) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := ps.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	ps.mu.Lock()
	ps.remoteSet = true
	pending := ps.pendingRemote
	ps.pendingRemote = nil
	ps.mu.Unlock()

	for _, cand := range pending {
		if err := ps.pc.AddICECandidate(cand); err != nil {
			return err
		}
	}
	return nil
}

func (ps *peerSession) addRemoteCandidate(cand webrtc.ICECandidateInit) error {
	ps.mu.Lock()
	if !ps.remoteSet {
		ps.pendingRemote = append(ps.pendingRemote, cand)
		ps.mu.Unlock()
		return nil
	}
	ps.mu.Unlock()
	return ps.pc.AddICECandidate(cand)
}

func (ps *peerSession) channel() *webrtc.DataChannel {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.dc
}

func (ps *peerSession) channelState() ChannelState {
	dc := ps.channel()
	if dc == nil {
		return ChannelConnecting
	}
	switch dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return ChannelOpen
	case webrtc.DataChannelStateClosing, webrtc.DataChannelStateClosed:
		return ChannelClosed
	default:
		return ChannelConnecting
	}
}

func (ps *peerSession) channelOpen() bool {
	return ps.channelState() == ChannelOpen
}

func (ps *peerSession) close() {
	if dc := ps.channel(); dc != nil {
		_ = dc.Close()
	}
	_ = ps.pc.Close()
}
