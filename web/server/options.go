package server

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Server.
type Option func(*options)

type options struct {
	host            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	shutdownFuncs   []shutdownFunc
	tlsCertFile     string
	tlsKeyFile      string
}

type shutdownFunc func(ctx context.Context) error

// WithHost sets the listen address. Default ":8080".
func WithHost(host string) Option {
	return func(opts *options) {
		opts.host = host
	}
}

// WithTimeouts overrides the read, write and idle timeouts of the
// underlying [http.Server]. Zero values keep the defaults of 10s, 3m
// and 120s.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(opts *options) {
		opts.readTimeout = read
		opts.writeTimeout = write
		opts.idleTimeout = idle
	}
}

// WithShutdownTimeout bounds how long [Server.Run] drains in-flight
// requests. Default 20s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.shutdownTimeout = d
	}
}

// WithLogger sets the lifecycle logger. Default slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = log
	}
}

// WithShutdownFunc registers fn to run, in registration order, before
// the listener is drained.
func WithShutdownFunc(fn func(ctx context.Context) error) Option {
	return func(opts *options) {
		opts.shutdownFuncs = append(opts.shutdownFuncs, fn)
	}
}

// WithTLS serves HTTPS with the given PEM certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(opts *options) {
		opts.tlsCertFile = certFile
		opts.tlsKeyFile = keyFile
	}
}
