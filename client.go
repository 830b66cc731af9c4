// Copyright 2024 Capy Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package capy is an asynchronous request/response client over an AMQP
// topic exchange.
package capy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/capy-amqp/capy-go/address"
	"github.com/capy-amqp/capy-go/health"
	"github.com/capy-amqp/capy-go/internal/rabbitmq"
	"github.com/capy-amqp/capy-go/messaging"
	rabbitmqTransport "github.com/capy-amqp/capy-go/transports/rabbitmq"
)

// Bind parses url, connects to RabbitMQ and binds a broker with its
// private reply queue. Call Run on the result to start delivering events.
//
// An unparsable url returns an *address.Error; connection failures return
// a *messaging.BindError.
func Bind(ctx context.Context, url string, options ...Option) (*messaging.Broker, error) {
	cfg := &clientConfig{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	addr, err := address.Parse(url)
	if err != nil {
		return nil, err
	}

	transportOpts := []rabbitmqTransport.TransportOption{
		rabbitmqTransport.WithLogger(cfg.logger),
		rabbitmqTransport.WithPublisherOptions(rabbitmq.WithConfirmMode(cfg.confirm)),
	}
	if cfg.exchange != "" {
		transportOpts = append(transportOpts, rabbitmqTransport.WithExchange(cfg.exchange))
	}
	if cfg.tlsConfig != nil {
		transportOpts = append(transportOpts, rabbitmqTransport.WithTLSConfig(cfg.tlsConfig))
	}
	if cfg.dialTimeout > 0 {
		transportOpts = append(transportOpts, rabbitmqTransport.WithConnectionOptions(
			rabbitmq.WithDialTimeout(cfg.dialTimeout),
		))
	}

	brokerOpts := append([]messaging.BrokerOption{
		messaging.WithDialer(rabbitmqTransport.NewDialer(transportOpts...)),
		messaging.WithLogger(cfg.logger),
	}, cfg.brokerOptions...)

	broker, err := messaging.Bind(ctx, addr, brokerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to bind to %s: %w", addr, err)
	}
	return broker, nil
}

// HealthChecker returns a health checker for broker
func HealthChecker(broker *messaging.Broker, logger *slog.Logger) health.Checker {
	return health.NewBrokerChecker(broker, logger)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger        *slog.Logger
	exchange      string
	tlsConfig     *tls.Config
	dialTimeout   time.Duration
	confirm       bool
	brokerOptions []messaging.BrokerOption
}

// Option configures Bind
type Option func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithExchange sets the topic exchange requests are published to
func WithExchange(name string) Option {
	return func(cfg *clientConfig) {
		cfg.exchange = name
		cfg.brokerOptions = append(cfg.brokerOptions, messaging.WithExchange(name))
	}
}

// WithHeartbeat sets the liveness timeout. Zero disables supervision.
func WithHeartbeat(timeout time.Duration) Option {
	return WithBrokerOptions(messaging.WithHeartbeat(timeout))
}

// WithFatalErrorHandler sets the callback invoked once when the
// connection is declared dead
func WithFatalErrorHandler(fn func(error)) Option {
	return WithBrokerOptions(messaging.WithFatalErrorHandler(fn))
}

// WithPublishTimeout bounds each publish
func WithPublishTimeout(timeout time.Duration) Option {
	return WithBrokerOptions(messaging.WithPublishTimeout(timeout))
}

// WithTLSConfig overrides the TLS configuration for amqps urls
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(cfg *clientConfig) {
		cfg.tlsConfig = tlsConfig
	}
}

// WithDialTimeout bounds connection establishment
func WithDialTimeout(timeout time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.dialTimeout = timeout
	}
}

// WithPublisherConfirms makes every publish wait for the broker's ack
func WithPublisherConfirms(enabled bool) Option {
	return func(cfg *clientConfig) {
		cfg.confirm = enabled
	}
}

// WithBrokerOptions passes options straight to messaging.Bind
func WithBrokerOptions(opts ...messaging.BrokerOption) Option {
	return func(cfg *clientConfig) {
		cfg.brokerOptions = append(cfg.brokerOptions, opts...)
	}
}
