package webrtc

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"statwindow/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// LoopbackConfig configures the in-process sender/receiver pair.
type LoopbackConfig struct {
	ICEServers []webrtc.ICEServer
	Audio      bool
	Video      bool
	// PacketInterval paces the synthetic RTP written to every local track.
	PacketInterval time.Duration
}

// Loopback connects two peer connections in one process and pushes
// synthetic RTP from the first to the second, so both ends produce stats.
type Loopback struct {
	config   LoopbackConfig
	sender   *webrtc.PeerConnection
	receiver *webrtc.PeerConnection

	senderStats   stats.Getter
	receiverStats stats.Getter

	tracks   []*webrtc.TrackLocalStaticRTP
	senders  []*webrtc.RTPSender
	feedback []*FeedbackCounter

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

type loopbackTrack struct {
	kind       webrtc.RTPCodecType
	capability webrtc.RTPCodecCapability
	clockRate  uint32
	payload    int
}

// NewLoopback negotiates the pair and waits until it is connected.
func NewLoopback(ctx context.Context, config LoopbackConfig, logger *zap.SugaredLogger) (*Loopback, error) {
	if !config.Audio && !config.Video {
		return nil, errors.New("loopback needs audio or video")
	}
	if config.PacketInterval <= 0 {
		config.PacketInterval = 20 * time.Millisecond
	}

	pcConfig := webrtc.Configuration{ICEServers: config.ICEServers}
	sender, senderStats, err := newPeerConnection(pcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sending peer connection: %w", err)
	}
	receiver, receiverStats, err := newPeerConnection(pcConfig)
	if err != nil {
		_ = sender.Close()
		return nil, fmt.Errorf("failed to create receiving peer connection: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l := &Loopback{
		config:   config,
		sender:        sender,
		receiver:      receiver,
		senderStats:   senderStats,
		receiverStats: receiverStats,
		cancel:        cancel,
		logger:        logger,
	}

	receiver.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.logger.Infow("loopback receiving track",
			"kind", track.Kind().String(),
			"ssrc", track.SSRC(),
			"codec", track.Codec().MimeType,
		)
		l.wg.Add(1)
		go l.drainTrack(track)
	})

	var tracks []loopbackTrack
	if config.Audio {
		tracks = append(tracks, loopbackTrack{
			kind:       webrtc.RTPCodecTypeAudio,
			capability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			clockRate:  48000,
			payload:    160,
		})
	}
	if config.Video {
		tracks = append(tracks, loopbackTrack{
			kind:       webrtc.RTPCodecTypeVideo,
			capability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			clockRate:  90000,
			payload:    1000,
		})
	}

	for _, t := range tracks {
		local, err := webrtc.NewTrackLocalStaticRTP(t.capability, t.kind.String(), "statwindow")
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to create %s track: %w", t.kind, err)
		}
		rtpSender, err := sender.AddTrack(local)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to add %s track: %w", t.kind, err)
		}

		feedback := &FeedbackCounter{}
		l.tracks = append(l.tracks, local)
		l.senders = append(l.senders, rtpSender)
		l.feedback = append(l.feedback, feedback)

		l.wg.Add(2)
		go l.readRTCP(rtpSender, feedback)
		go l.writeRTP(runCtx, local, t)
	}

	if err := l.negotiate(ctx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// newPeerConnection builds a peer connection on its own API so that the
// stats interceptor it carries belongs to this connection only.
func newPeerConnection(config webrtc.Configuration) (*webrtc.PeerConnection, stats.Getter, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(media, registry); err != nil {
		return nil, nil, fmt.Errorf("failed to register interceptors: %w", err)
	}
	statsFactory, err := stats.NewInterceptor()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stats interceptor: %w", err)
	}
	var getter stats.Getter
	statsFactory.OnNewPeerConnection(func(_ string, g stats.Getter) {
		getter = g
	})
	registry.Add(statsFactory)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithInterceptorRegistry(registry))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, nil, err
	}
	if getter == nil {
		_ = pc.Close()
		return nil, nil, errors.New("stats interceptor was not built")
	}
	return pc, getter, nil
}

func (l *Loopback) negotiate(ctx context.Context) error {
	connected := make(chan struct{})
	var once sync.Once
	l.receiver.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l.logger.Debugw("loopback connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateConnected {
			once.Do(func() { close(connected) })
		}
	})

	offer, err := l.sender.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	offerGathered := webrtc.GatheringCompletePromise(l.sender)
	if err := l.sender.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local offer: %w", err)
	}
	<-offerGathered

	if err := l.receiver.SetRemoteDescription(*l.sender.LocalDescription()); err != nil {
		return fmt.Errorf("failed to set remote offer: %w", err)
	}
	answer, err := l.receiver.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	answerGathered := webrtc.GatheringCompletePromise(l.receiver)
	if err := l.receiver.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local answer: %w", err)
	}
	<-answerGathered

	if err := l.sender.SetRemoteDescription(*l.receiver.LocalDescription()); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}

	select {
	case <-connected:
		l.logger.Infow("loopback connected", "tracks", len(l.tracks))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("loopback did not connect: %w", ctx.Err())
	}
}

// SenderSources returns one stats handle per sending track.
func (l *Loopback) SenderSources() []ports.StatsSource {
	sources := make([]ports.StatsSource, 0, len(l.senders))
	for i, s := range l.senders {
		name := fmt.Sprintf("sender-%s", l.tracks[i].Kind())
		sources = append(sources, NewSenderSource(name, l.sender, l.senderStats, s, l.feedback[i]))
	}
	return sources
}

// ReceiverSources returns one stats handle per receiving transceiver.
func (l *Loopback) ReceiverSources() []ports.StatsSource {
	receivers := l.receiver.GetReceivers()
	sources := make([]ports.StatsSource, 0, len(receivers))
	for i, r := range receivers {
		sources = append(sources, NewReceiverSource(fmt.Sprintf("receiver-%d", i), l.receiver, l.receiverStats, r))
	}
	return sources
}

// Close stops the media and closes both peer connections.
func (l *Loopback) Close() {
	l.cancel()
	if err := l.sender.Close(); err != nil {
		l.logger.Warnw("failed to close sending peer connection", "error", err)
	}
	if err := l.receiver.Close(); err != nil {
		l.logger.Warnw("failed to close receiving peer connection", "error", err)
	}
	l.wg.Wait()
}

// readRTCP drains feedback for one sender and counts PLI and NACK.
func (l *Loopback) readRTCP(sender *webrtc.RTPSender, feedback *FeedbackCounter) {
	defer l.wg.Done()
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.logger.Debugw("rtcp read loop ended", "error", err)
			}
			return
		}
		for _, pkt := range packets {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				feedback.AddPLI()
			case *rtcp.TransportLayerNack:
				for _, pair := range p.Nacks {
					feedback.AddNACK(len(pair.PacketList()))
				}
			}
		}
	}
}

// writeRTP paces synthetic packets onto a local track until ctx ends.
func (l *Loopback) writeRTP(ctx context.Context, track *webrtc.TrackLocalStaticRTP, t loopbackTrack) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.PacketInterval)
	defer ticker.Stop()

	step := uint32(float64(t.clockRate) * l.config.PacketInterval.Seconds())
	payload := make([]byte, t.payload)
	packet := &rtp.Packet{
		Header: rtp.Header{Version: 2, Marker: true},
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rand.Read(payload); err != nil {
				continue
			}
			packet.Payload = payload
			if err := track.WriteRTP(packet); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
				l.logger.Debugw("failed to write rtp", "kind", t.kind.String(), "error", err)
			}
			packet.SequenceNumber++
			packet.Timestamp += step
		}
	}
}

// drainTrack reads a remote track so the receiver keeps counting packets.
func (l *Loopback) drainTrack(track *webrtc.TrackRemote) {
	defer l.wg.Done()
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
