package client

import "github.com/waconnect/waconnect-go/internal/core"

// BuildTextMessageNode constructs the outgoing "message" stanza for a plain
// text body, per spec.md §1's messaging surface. The node carries no "id"
// attr: Dispatcher.Query stamps one in with GenerateMessageTag before
// sending, so every call produces a fresh, correlatable tag.
func BuildTextMessageNode(to, text string) *core.BinaryNode {
	body := core.NewNode("body", []byte(text))
	msg := core.NewNode("message", []*core.BinaryNode{body})
	msg.SetAttr("to", to)
	msg.SetAttr("type", "text")
	return msg
}
