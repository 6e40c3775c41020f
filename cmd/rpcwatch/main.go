// Command rpcwatch issues a JSON-RPC call or tails a subscription against a
// node endpoint. The transport follows the URL scheme: http(s) does a
// one-shot POST, ws(s) opens a persistent connection.
//
// Examples:
//
//	rpcwatch -url http://localhost:8545/rpc -method chain.getHead
//	rpcwatch -url ws://localhost:8546/ws -method chain.subscribe -params '["newHeads"]' -subscribe
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lightforgemedia/go-noderpc/pkg/client"
)

func main() {
	urlStr := flag.String("url", "http://localhost:8545/rpc", "Node endpoint (http(s):// or ws(s)://)")
	method := flag.String("method", "", "RPC method to call (required)")
	paramsJSON := flag.String("params", "", "Params as a JSON value, e.g. '[\"newHeads\"]'")
	subscribe := flag.Bool("subscribe", false, "Treat the call as a subscribe and stream events (ws only)")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-call timeout")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *method == "" {
		fmt.Fprintln(os.Stderr, "rpcwatch: -method is required")
		flag.Usage()
		os.Exit(2)
	}

	var params interface{}
	if *paramsJSON != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(*paramsJSON), &raw); err != nil {
			logger.Error("Invalid -params JSON", "err", err)
			os.Exit(2)
		}
		params = raw
	}

	u, err := url.Parse(*urlStr)
	if err != nil {
		logger.Error("Invalid -url", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case strings.HasPrefix(u.Scheme, "http"):
		if *subscribe {
			logger.Error("Subscriptions need a ws:// endpoint")
			os.Exit(2)
		}
		runHTTP(ctx, logger, *urlStr, *method, params, *timeout)
	case strings.HasPrefix(u.Scheme, "ws"):
		runWS(ctx, logger, *urlStr, *method, params, *subscribe, *timeout)
	default:
		logger.Error("Unsupported URL scheme", "scheme", u.Scheme)
		os.Exit(2)
	}
}

func runHTTP(ctx context.Context, logger *slog.Logger, urlStr, method string, params interface{}, timeout time.Duration) {
	c := client.NewHTTP(urlStr, client.WithHTTPLogger(logger), client.WithHTTPCallTimeout(timeout))
	result, err := c.Call(ctx, method, params)
	if err != nil {
		logger.Error("Call failed", "method", method, "err", err)
		os.Exit(1)
	}
	printJSON(result)
}

func runWS(ctx context.Context, logger *slog.Logger, urlStr, method string, params interface{}, subscribe bool, timeout time.Duration) {
	var c *client.Client
	var resubscribe func()
	c, err := client.Dial(ctx, urlStr,
		client.WithLogger(logger),
		client.WithCallTimeout(timeout),
		client.WithAutoReconnect(10, 250*time.Millisecond, 30*time.Second),
		client.WithContext(ctx),
		client.WithOnReconnect(func() {
			if resubscribe != nil {
				resubscribe()
			}
		}),
	)
	if err != nil {
		logger.Error("Dial failed", "url", urlStr, "err", err)
		os.Exit(1)
	}
	defer c.Close()

	if !subscribe {
		result, err := c.Call(ctx, method, params)
		if err != nil {
			logger.Error("Call failed", "method", method, "err", err)
			os.Exit(1)
		}
		printJSON(result)
		return
	}

	sub, err := c.Subscribe(ctx, method, params, func(result json.RawMessage) {
		printJSON(result)
	})
	if err != nil {
		logger.Error("Subscribe failed", "method", method, "err", err)
		os.Exit(1)
	}
	logger.Info("Subscription active, streaming events", "subscription", sub.ID())

	// A new connection means a new server-side subscription; re-issue the
	// subscribe call each time the client comes back.
	resubscribe = func() {
		newSub, err := c.Subscribe(ctx, method, params, func(result json.RawMessage) {
			printJSON(result)
		})
		if err != nil {
			logger.Error("Re-subscribe after reconnect failed", "method", method, "err", err)
			return
		}
		logger.Info("Re-subscribed after reconnect", "subscription", newSub.ID())
	}

	<-ctx.Done()
	logger.Info("Shutting down")
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}
