// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures a connection to a serial-to-WebSocket bridge
type WebSocketConfig struct {
	URL         string
	Username    string
	Password    string
	SkipVerify  bool          // Skip TLS certificate verification (wss:// only)
	ReadTimeout time.Duration // Per-read timeout
}

// WebSocket reads the station byte stream from binary WebSocket messages.
//
// A gorilla connection is unusable after a read deadline fires, so messages are
// pumped by a goroutine and Read applies the timeout on the hand-off instead.
type WebSocket struct {
	conn    *websocket.Conn
	cfg     WebSocketConfig
	frames  chan []byte
	done    chan struct{}
	buf     []byte
	mu      sync.Mutex
	readErr error
	once    sync.Once
}

// OpenWebSocket dials the bridge with optional HTTP Basic auth
func OpenWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocket, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify,
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	w := &WebSocket{
		conn:   conn,
		cfg:    cfg,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go w.pump()
	return w, nil
}

// WebSocketOpener returns an Opener for the given configuration
func WebSocketOpener(cfg WebSocketConfig) Opener {
	return func(ctx context.Context) (Transport, error) {
		return OpenWebSocket(ctx, cfg)
	}
}

func (w *WebSocket) pump() {
	defer close(w.frames)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}

		// Only binary messages carry station bytes
		if messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case w.frames <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	timer := time.NewTimer(w.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case data, ok := <-w.frames:
		if !ok {
			return 0, w.failure()
		}
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	case <-w.done:
		return 0, ErrTransportClosed
	}
}

func (w *WebSocket) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.readErr != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, w.readErr)
	}
	return ErrTransportClosed
}

// ResetBuffers drops buffered and queued messages
func (w *WebSocket) ResetBuffers() error {
	w.buf = nil
	for {
		select {
		case _, ok := <-w.frames:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

// Close closes the connection once; later calls return nil
func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

func (w *WebSocket) String() string {
	return fmt.Sprintf("WebSocket: %s", w.cfg.URL)
}
