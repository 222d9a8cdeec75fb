// Package redisbridge relays committed changes between API instances over
// Redis pub/sub so every instance's hub sees every write.
package redisbridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"levra.org/internal/ids"
	"levra.org/internal/obs"
	"levra.org/internal/stream"
)

const DefaultChannel = "levra:changes"

type envelope struct {
	Origin string        `json:"origin"`
	Change stream.Change `json:"change"`
}

// Bridge is a stream.Publisher. Local changes go to the local hub and to
// Redis; changes received from Redis that another instance published are
// replayed into the local hub.
type Bridge struct {
	client  *redis.Client
	channel string
	origin  string
	local   stream.Publisher
	timeout time.Duration
	log     *logrus.Entry
}

var _ stream.Publisher = (*Bridge)(nil)

func New(client *redis.Client, channel string, local stream.Publisher) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bridge{
		client:  client,
		channel: channel,
		origin:  ids.New(),
		local:   local,
		timeout: time.Second,
		log:     obs.Logger().WithField("component", "redisbridge"),
	}
}

// Dial parses a redis:// URL and verifies the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

func (b *Bridge) Publish(c stream.Change) {
	b.local.Publish(c)

	payload, err := b.encode(c)
	if err != nil {
		b.log.WithError(err).Warn("encode change")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		// Remote views resync on their next reconnect.
		b.log.WithError(err).WithField("collection", c.Collection).Warn("relay change")
	}
}

// Run replays remote changes into the local hub until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *Bridge) encode(c stream.Change) ([]byte, error) {
	return json.Marshal(envelope{Origin: b.origin, Change: c})
}

// handle reports whether the payload was replayed locally.
func (b *Bridge) handle(payload string) bool {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.WithError(err).Warn("decode relayed change")
		return false
	}
	if env.Origin == b.origin || env.Change.Collection == "" {
		return false
	}
	b.local.Publish(env.Change)
	return true
}
