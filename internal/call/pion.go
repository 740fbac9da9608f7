package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// localTrack is implemented by streams whose tracks can be attached to a
// peer connection directly.
type localTrack interface {
	Track
	RTCTrack() webrtc.TrackLocal
}

// enginePopulator lets a capture stream register the codecs it encodes with.
type enginePopulator interface {
	PopulateEngine(*webrtc.MediaEngine) error
}

// NewPionFactory returns a PeerFactory backed by pion/webrtc. Negotiation is
// non-trickle: each description is returned only after ICE gathering
// completes, so the offer/answer exchange is the whole handshake and no
// separate candidate events are needed.
func NewPionFactory(logger *zap.Logger) PeerFactory {
	return func(stream Stream, events PeerEvents) (Peer, error) {
		return newPionPeer(stream, events, logger)
	}
}

type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger
	events PeerEvents

	mu         sync.Mutex
	remoteLive bool
	closed     bool
	closedOnce sync.Once
}

func newPionPeer(stream Stream, events PeerEvents, logger *zap.Logger) (*pionPeer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if pop, ok := stream.(enginePopulator); ok {
		if err := pop.PopulateEngine(mediaEngine); err != nil {
			return nil, fmt.Errorf("populate media engine: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	// Generous ICE timeouts: a brief NAT hiccup should not end the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &pionPeer{pc: pc, logger: logger, events: events}

	attached := 0
	for _, t := range stream.Tracks() {
		lt, ok := t.(localTrack)
		if !ok {
			continue
		}
		if _, err := pc.AddTrack(lt.RTCTrack()); err != nil {
			logger.Warn("add local track failed", zap.Error(err), zap.String("kind", string(t.Kind())))
			continue
		}
		attached++
	}
	if attached == 0 {
		// Recvonly transceivers keep valid m-lines in the SDP even without
		// local capture.
		p.addRecvOnlyTransceivers()
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := TrackAudio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = TrackVideo
		}
		p.mu.Lock()
		p.remoteLive = true
		p.mu.Unlock()
		logger.Info("remote track arrived", zap.String("kind", string(kind)))
		if p.events.OnRemoteTrack != nil {
			p.events.OnRemoteTrack(kind)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Info("peer connection state", zap.String("state", s.String()))
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.mu.Lock()
			localClose := p.closed
			p.mu.Unlock()
			if !localClose && p.events.OnClosed != nil {
				p.closedOnce.Do(p.events.OnClosed)
			}
		}
	})

	return p, nil
}

func (p *pionPeer) addRecvOnlyTransceivers() {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			p.logger.Warn("add recvonly transceiver failed", zap.Error(err))
		}
	}
}

func (p *pionPeer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeer) AcceptOffer(offer string) (string, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeer) ApplyAnswer(answer string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (p *pionPeer) RemoteLive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteLive
}

func (p *pionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}
