// Package control relays transport commands to the receiver's remote topic.
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/treefix50/nowplaying/internal/broker"
	"github.com/treefix50/nowplaying/internal/metrics"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNotConnected   = errors.New("MQTT not connected")
)

// remoteCommands maps user-facing names to the DACP tokens the receiver accepts.
var remoteCommands = map[string]string{
	"play":        "play",
	"pause":       "pause",
	"playpause":   "playpause",
	"playresume":  "playresume",
	"next":        "nextitem",
	"previous":    "previtem",
	"fastforward": "beginff",
	"rewind":      "beginrew",
	"volumeup":    "volumeup",
	"volumedown":  "volumedown",
	"mute":        "mutetoggle",
	"stop":        "stop",
	"shuffle":     "shuffle_songs",
	"repeat":      "repeat",
}

// Publisher sends a payload on the feed.
type Publisher interface {
	Connected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
}

// CommandError carries the command name alongside the cause.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	if errors.Is(e.Err, ErrUnknownCommand) {
		return fmt.Sprintf("Unknown command: %s", e.Command)
	}
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

type Controller struct {
	topic     string
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func New(baseTopic string, p Publisher, m *metrics.Metrics, log zerolog.Logger) *Controller {
	return &Controller{
		topic:     baseTopic + "/remote",
		publisher: p,
		metrics:   m,
		log:       log.With().Str("component", "control").Logger(),
	}
}

// Resolve returns the remote token for name, ignoring case and surrounding space.
func Resolve(name string) (string, bool) {
	token, ok := remoteCommands[strings.ToLower(strings.TrimSpace(name))]
	return token, ok
}

// Commands lists the accepted command names in order.
func Commands() []string {
	names := make([]string, 0, len(remoteCommands))
	for name := range remoteCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Topic is where commands are published.
func (c *Controller) Topic() string { return c.topic }

// Send publishes the token for name and returns it.
func (c *Controller) Send(ctx context.Context, name string) (string, error) {
	token, ok := Resolve(name)
	if !ok {
		c.metrics.Command("unknown")
		return "", &CommandError{Command: name, Err: ErrUnknownCommand}
	}

	if c.publisher == nil || !c.publisher.Connected() {
		c.metrics.Command("unavailable")
		return "", &CommandError{Command: name, Err: ErrNotConnected}
	}

	if err := c.publisher.Publish(ctx, c.topic, []byte(token)); err != nil {
		if errors.Is(err, broker.ErrNotConnected) {
			c.metrics.Command("unavailable")
			return "", &CommandError{Command: name, Err: ErrNotConnected}
		}
		c.metrics.Command("failed")
		c.log.Error().Err(err).Str("command", token).Msg("publish failed")
		return "", &CommandError{Command: name, Err: err}
	}

	c.metrics.Command("ok")
	c.log.Info().Str("command", token).Str("topic", c.topic).Msg("remote command sent")
	return token, nil
}
