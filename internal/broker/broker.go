// Package broker maintains the MQTT connection to the receiver's metadata feed.
package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	keepAlive      = 60 * time.Second
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	inboxSize      = 256
)

var ErrNotConnected = errors.New("broker: not connected")

// Options configures the connection.
type Options struct {
	Host      string
	Port      int
	Username  string
	Password  string
	ClientID  string
	BaseTopic string
}

// Message is one inbound feed message.
type Message struct {
	Topic   string
	Payload []byte
}

// Client wraps a paho client. Inbound messages are handed to the consumer of
// Messages in arrival order; reconnects are left to paho.
type Client struct {
	opts   Options
	client mqtt.Client
	msgs   chan Message
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

// ClientID returns the id presented to the broker: the configured prefix
// suffixed with the hostname so several dashboards can share a broker.
func ClientID(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return prefix
	}
	return prefix + "-" + host
}

func New(opts Options, log zerolog.Logger) *Client {
	c := &Client{
		opts: opts,
		msgs: make(chan Message, inboxSize),
		done: make(chan struct{}),
		log:  log.With().Str("component", "broker").Logger(),
	}

	co := mqtt.NewClientOptions().
		AddBroker("tcp://" + opts.Host + ":" + strconv.Itoa(opts.Port)).
		SetClientID(ClientID(opts.ClientID)).
		SetProtocolVersion(4).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetCleanSession(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			c.log.Info().Msg("reconnecting to MQTT broker")
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	c.client = mqtt.NewClient(co)
	return c
}

// Connect starts connecting in the background. With ConnectRetry set paho
// keeps retrying until the broker is reachable, so only configuration errors
// are returned here.
func (c *Client) Connect() error {
	c.log.Info().
		Str("host", c.opts.Host).
		Int("port", c.opts.Port).
		Str("client_id", ClientID(c.opts.ClientID)).
		Msg("connecting to MQTT broker")

	tok := c.client.Connect()
	if tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
		return fmt.Errorf("broker: connect: %w", tok.Error())
	}
	return nil
}

func (c *Client) onConnect(cl mqtt.Client) {
	filter := c.opts.BaseTopic + "/#"
	c.log.Info().Str("filter", filter).Msg("connected to MQTT broker")

	tok := cl.Subscribe(filter, 0, c.onMessage)
	go func() {
		if !tok.WaitTimeout(connectTimeout) {
			c.log.Warn().Str("filter", filter).Msg("subscribe timed out")
			return
		}
		if err := tok.Error(); err != nil {
			c.log.Error().Err(err).Str("filter", filter).Msg("subscribe failed")
			return
		}
		c.log.Info().Str("filter", filter).Msg("subscribed")
	}()
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn().Err(err).Msg("disconnected from MQTT broker")
}

// onMessage runs on paho's dispatch goroutine. It blocks while the inbox is
// full so ordering is kept, and gives up once the client is closed.
func (c *Client) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := Message{Topic: m.Topic(), Payload: m.Payload()}
	select {
	case c.msgs <- msg:
	case <-c.done:
	}
}

// Messages returns the inbound message channel.
func (c *Client) Messages() <-chan Message { return c.msgs }

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool { return c.client.IsConnectionOpen() }

// Publish sends payload to topic with QoS 0.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	tok := c.client.Publish(topic, 0, false, payload)

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("broker: publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("broker: publish %s: %w", topic, ctx.Err())
	}
}

// Close disconnects and releases any blocked delivery.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.client.Disconnect(250)
		c.log.Info().Msg("MQTT client closed")
	})
}
