package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/accounts-svc/apiserver/config"
)

const (
	defaultTimeout = 10 * time.Second

	// AttrContentType carries the payload media type across backends.
	AttrContentType = "content_type"
)

// Backend defines the broker-agnostic publish operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
	timeout time.Duration
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend, timeout time.Duration) *MQ {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &MQ{backend: backend, timeout: timeout}
}

// Open connects to the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.MQConfig, timeout time.Duration) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case config.MQBackendRabbitMQ:
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case config.MQBackendPubSub:
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	case config.MQBackendNone, "":
		backend = NoopBackend{}
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(backend, timeout), nil
}

// Publish sends a message to the named channel.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.backend.Publish(ctx, channel, data, attrs)
}

// PublishJSON encodes v and publishes it with a JSON content type.
func (m *MQ) PublishJSON(ctx context.Context, channel string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return m.Publish(ctx, channel, data, map[string]string{AttrContentType: "application/json"})
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}

// NoopBackend drops every message. It is used when no broker is configured.
type NoopBackend struct{}

func (NoopBackend) Publish(context.Context, string, []byte, map[string]string) (string, error) {
	return "", nil
}

func (NoopBackend) Close() error { return nil }
