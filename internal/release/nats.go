// Optional NATS/JetStream fan-out backend for the release queue, separate
// from the in-process heap and mutex-guarded queue that Coordinator uses.
// The release semantics are defined for a single process; this backend
// lets multiple worker processes share Releases by publishing each one as
// a JetStream message. Coordinator does not call it: callers publish and
// consume through NATSBackend directly.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// NATSOptions configures the optional NATS fan-out backend.
type NATSOptions struct {
	Enabled       bool
	URL           string
	Embedded      bool
	EmbeddedPort  int
	Stream        string
	SubjectPrefix string
	ConsumerName  string
}

// EnvNATSOptions returns the default NATSOptions: disabled, an embedded
// server on port 4222, stream CORE_RELEASES. It reads no environment
// variables.
func EnvNATSOptions() NATSOptions {
	return NATSOptions{
		Enabled:       false, // opt-in only; the in-process backend is the default
		URL:           "nats://127.0.0.1:4222",
		Embedded:      true,
		EmbeddedPort:  4222,
		Stream:        "CORE_RELEASES",
		SubjectPrefix: "release",
		ConsumerName:  "core-release-worker",
	}
}

// NATSBackend publishes/consumes Releases over a JetStream stream so
// multiple worker processes can share one Coordinator's fires. One
// NATSBackend embeds (or connects to) a single NATS server.
type NATSBackend struct {
	opts   NATSOptions
	server *natsserver.Server
	conn   *nats.Conn
	js     nats.JetStreamContext
}

// NewNATSBackend connects (embedding a server first if configured) and
// ensures the release stream exists. Returns (nil, nil) if opts.Enabled is
// false, so callers can unconditionally call this and check for a nil
// backend rather than branching on opts.Enabled themselves.
func NewNATSBackend(opts NATSOptions) (*NATSBackend, error) {
	if !opts.Enabled {
		return nil, nil
	}

	b := &NATSBackend{opts: opts}
	if opts.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{Port: -1, JetStream: true})
		if err != nil {
			return nil, fmt.Errorf("release: embedded nats: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("release: embedded nats failed to start")
		}
		b.server = srv
		b.opts.URL = fmt.Sprintf("nats://%s", srv.Addr().String())
	}

	conn, err := nats.Connect(b.opts.URL)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("release: nats connect: %w", err)
	}
	b.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("release: jetstream init: %w", err)
	}
	b.js = js

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     opts.Stream,
		Subjects: []string{opts.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
	}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		b.Close()
		return nil, fmt.Errorf("release: add stream: %w", err)
	}

	return b, nil
}

func (b *NATSBackend) subject(workflow string) string {
	return fmt.Sprintf("%s.%s", b.opts.SubjectPrefix, workflow)
}

// Publish fans r out to the stream in place of (or alongside) a local
// worker-pool dispatch.
func (b *NATSBackend) Publish(ctx context.Context, r Release) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = b.js.Publish(b.subject(r.Workflow), data)
	return err
}

// Subscribe starts a durable pull consumer for workflow and invokes handler
// for every Release delivered, acking each message once handler returns.
func (b *NATSBackend) Subscribe(workflow string, handler func(Release)) (*nats.Subscription, error) {
	sub, err := b.js.PullSubscribe(b.subject(workflow), b.opts.ConsumerName+"-"+workflow)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
			if err != nil {
				if err == nats.ErrConnectionClosed || err == nats.ErrConsumerDeleted {
					return
				}
				continue
			}
			for _, msg := range msgs {
				var r Release
				if err := json.Unmarshal(msg.Data, &r); err == nil {
					handler(r)
				}
				_ = msg.Ack()
			}
		}
	}()
	return sub, nil
}

// Close tears down the connection and, if embedded, the server.
func (b *NATSBackend) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
}
