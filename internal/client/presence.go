package client

import "github.com/waconnect/waconnect-go/internal/core"

// Presence states, glossary-level vocabulary already covered by the token
// dictionary in internal/core/binarynode.go.
const (
	PresenceAvailable   = "available"
	PresenceUnavailable = "unavailable"
	PresenceComposing   = "composing"
	PresencePaused      = "paused"
)

// BuildPresenceNode constructs the "presence" stanza sent to announce the
// client's own availability, or, when chatJID is non-empty, a per-chat
// typing indicator (composing/paused).
func BuildPresenceNode(chatJID, state string) *core.BinaryNode {
	if chatJID == "" {
		presence := core.NewNode("presence", nil)
		presence.SetAttr("type", state)
		return presence
	}
	presence := core.NewNode("presence", nil)
	presence.SetAttr("type", state)
	presence.SetAttr("to", chatJID)
	return presence
}

// SendPresence announces availability (no chatJID) or a per-chat typing
// indicator (chatJID set), spec.md §6.
func (c *WAClient) SendPresence(chatJID, state string) error {
	c.mu.RLock()
	conn := c.conn
	ready := c.status == StatusReady
	c.mu.RUnlock()
	if !ready || conn == nil {
		return ErrNotConnected
	}

	node := BuildPresenceNode(chatJID, state)
	return conn.SendNode(node)
}
