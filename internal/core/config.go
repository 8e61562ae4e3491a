// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import "go.uber.org/zap"

// WhatsApp WebSocket endpoint and framing constants.
const (
	WAWebSocketURL = "wss://web.whatsapp.com/ws/chat"
	WAOrigin       = "https://web.whatsapp.com"

	DefaultConnectTimeoutMs    = 30000
	DefaultKeepAliveIntervalMs = 30000
	DefaultQueryTimeoutMs      = 60000
)

// Version is the 4-tuple WhatsApp client version sent during login/registration.
type Version struct {
	Major, Minor, Patch, Build int
}

// Browser describes the companion-devices "Linked Devices" entry.
type Browser struct {
	Vendor, Name, Version string
}

// Config is the embedder-supplied config surface, spec.md §6.
type Config struct {
	WAWebSocketURL string

	ConnectTimeoutMs    int
	KeepAliveIntervalMs int

	// DefaultQueryTimeoutMs is nullable: nil means unbounded.
	DefaultQueryTimeoutMs *int

	Version Version
	Browser Browser

	PrintQRInTerminal bool

	Auth  CredentialStore
	Agent interface{} // optional proxy/HTTP agent, embedder-supplied

	Logger *zap.SugaredLogger
}

// DefaultConfig returns a Config with every field set to the teacher's
// existing defaults, per spec.md §6.
func DefaultConfig() Config {
	timeout := DefaultQueryTimeoutMs
	return Config{
		WAWebSocketURL:      WAWebSocketURL,
		ConnectTimeoutMs:    DefaultConnectTimeoutMs,
		KeepAliveIntervalMs: DefaultKeepAliveIntervalMs,
		DefaultQueryTimeoutMs: &timeout,
		Version:               Version{Major: 2, Minor: 3000, Patch: 1023223463},
		Browser:               Browser{Vendor: "WAConnect", Name: "Chrome", Version: "120.0.0.0"},
	}
}
