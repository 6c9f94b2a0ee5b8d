// Package feed drives the playback state from the receiver's metadata feed.
package feed

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/treefix50/nowplaying/internal/broker"
	"github.com/treefix50/nowplaying/internal/metrics"
	"github.com/treefix50/nowplaying/internal/playback"
)

// Notifier receives every snapshot that differs from the previous one.
type Notifier interface {
	Publish(playback.Snapshot)
}

// DeviceSaver persists the device identity when it changes.
type DeviceSaver interface {
	SaveDevice(volume, clientName string) error
}

type Subscriber struct {
	base     string
	store    *playback.Store
	notifier Notifier
	devices  DeviceSaver
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

type Option func(*Subscriber)

func WithDeviceSaver(d DeviceSaver) Option {
	return func(s *Subscriber) { s.devices = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Subscriber) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Subscriber) { s.log = l }
}

func New(base string, store *playback.Store, notifier Notifier, opts ...Option) *Subscriber {
	s := &Subscriber{
		base:     base,
		store:    store,
		notifier: notifier,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "feed").Logger()
	return s
}

// Run consumes msgs until ctx is cancelled or msgs is closed.
func (s *Subscriber) Run(ctx context.Context, msgs <-chan broker.Message) error {
	s.log.Info().Str("base", s.base).Msg("feed loop started")
	defer s.log.Info().Msg("feed loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.Handle(msg.Topic, msg.Payload)
		}
	}
}

// Handle decodes one message, applies it and notifies on change.
// It reports whether the snapshot changed.
func (s *Subscriber) Handle(topic string, payload []byte) bool {
	ev := playback.Decode(s.base, topic, payload)
	s.metrics.FeedMessage(ev.Kind.String())

	if ev.Err != nil {
		s.metrics.DecodeError()
		s.log.Warn().Err(ev.Err).Str("topic", topic).Msg("discarding feed message")
		return false
	}
	s.logEvent(topic, ev)

	var before playback.Snapshot
	if s.devices != nil {
		before = s.store.Snapshot()
	}

	if !s.store.Apply(ev) {
		return false
	}
	snap := s.store.Snapshot()
	s.metrics.StateChanged()
	s.notifier.Publish(snap)

	if s.devices != nil && (snap.Volume != before.Volume || snap.ClientName != before.ClientName) {
		if err := s.devices.SaveDevice(snap.Volume, snap.ClientName); err != nil {
			s.log.Warn().Err(err).Msg("could not persist device state")
		}
	}
	return true
}

func (s *Subscriber) logEvent(topic string, ev playback.Event) {
	switch ev.Kind {
	case playback.SessionStart:
		s.log.Info().Str("topic", topic).Msg("playback session started")
	case playback.SessionEnd:
		s.log.Info().Msg("playback session ended")
	case playback.CoverUpdate:
		s.log.Debug().Str("size", humanize.Bytes(uint64(len(ev.Cover)))).Msg("cover art received")
	case playback.MetadataField:
		s.log.Debug().Str("field", ev.Field).Str("value", ev.Text).Msg("metadata")
	}
}
