package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Options contains configuration values for DialWithOptions.
type Options struct {
	Logger            *slog.Logger
	DialOptions       *websocket.DialOptions
	CallTimeout       time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	AutoReconnect     bool
	ReconnectAttempts int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	SendBuffer        int
	OnReconnect       func()
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:            slog.Default(),
		DialOptions:       &websocket.DialOptions{HTTPClient: http.DefaultClient},
		CallTimeout:       defaultCallTimeout,
		DialTimeout:       defaultDialTimeout,
		WriteTimeout:      defaultWriteTimeout,
		AutoReconnect:     false,
		ReconnectAttempts: defaultMaxReconnects,
		BackoffBase:       defaultBackoffBase,
		BackoffMax:        defaultBackoffMax,
		SendBuffer:        defaultSendBuffer,
	}
}

// DialWithOptions establishes a connection using an Options struct.
// This function directly initializes a Client without converting to
// functional options.
func DialWithOptions(ctx context.Context, urlStr string, opts Options) (*Client, error) {
	cli := &Client{
		cfg: clientConfig{
			logger:        opts.Logger,
			dialOptions:   opts.DialOptions,
			callTimeout:   opts.CallTimeout,
			dialTimeout:   opts.DialTimeout,
			writeTimeout:  opts.WriteTimeout,
			pingInterval:  opts.PingInterval,
			autoReconnect: opts.AutoReconnect,
			maxReconnects: opts.ReconnectAttempts,
			backoffBase:   opts.BackoffBase,
			backoffMax:    opts.BackoffMax,
			sendBuffer:    opts.SendBuffer,
			onReconnect:   opts.OnReconnect,
			parentCtx:     context.Background(),
		},
		urlStr: urlStr,
		state:  StateDisconnected,
	}

	// Apply defaults for zero values
	if cli.cfg.logger == nil {
		cli.cfg.logger = slog.Default()
	}
	if cli.cfg.callTimeout <= 0 {
		cli.cfg.callTimeout = defaultCallTimeout
	}
	if cli.cfg.dialTimeout <= 0 {
		cli.cfg.dialTimeout = defaultDialTimeout
	}
	if cli.cfg.writeTimeout <= 0 {
		cli.cfg.writeTimeout = defaultWriteTimeout
	}
	if cli.cfg.maxReconnects <= 0 {
		cli.cfg.maxReconnects = defaultMaxReconnects
	}
	if cli.cfg.backoffBase <= 0 {
		cli.cfg.backoffBase = defaultBackoffBase
	}
	if cli.cfg.backoffMax <= 0 {
		cli.cfg.backoffMax = defaultBackoffMax
	}
	if cli.cfg.sendBuffer <= 0 {
		cli.cfg.sendBuffer = defaultSendBuffer
	}

	return cli.start(ctx)
}
