// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/airstation/pkg/config"
	"github.com/Thermoquad/airstation/pkg/transport"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("AIRSTATION_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// NewOpener returns an opener for the configured transport and a description of it.
// The password is resolved once here so reconnects never prompt.
func NewOpener(cfg *config.Config) (transport.Opener, string, error) {
	if cfg.WebSocket.URL != "" {
		password := ""
		if cfg.WebSocket.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		opener := transport.WebSocketOpener(transport.WebSocketConfig{
			URL:         cfg.WebSocket.URL,
			Username:    cfg.WebSocket.Username,
			Password:    password,
			SkipVerify:  cfg.WebSocket.SkipVerify,
			ReadTimeout: cfg.ReadTimeout,
		})
		return opener, fmt.Sprintf("WebSocket: %s", cfg.WebSocket.URL), nil
	}

	opener := transport.SerialOpener(transport.SerialConfig{
		Path:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	return opener, fmt.Sprintf("Serial: %s @ %d baud", cfg.Device, cfg.Baud), nil
}

// OpenConnection opens the configured transport once, without retrying
func OpenConnection(ctx context.Context, cfg *config.Config) (transport.Transport, string, error) {
	opener, info, err := NewOpener(cfg)
	if err != nil {
		return nil, "", err
	}

	conn, err := opener(ctx)
	if err != nil {
		return nil, "", err
	}

	return conn, info, nil
}
