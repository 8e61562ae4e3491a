// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// BinaryNode is the universal message unit of the wire protocol: a tag, an
// ordered set of string attributes, and content that is either absent, a
// leaf byte-string, or a list of child nodes.
//
// NOTE on the token dictionary: the real client's two-bank dictionary is
// not included in the retrieval pack (spec.md §9 flags this explicitly).
// dictionaryTokens below is a best-effort reconstruction covering the
// attribute/value vocabulary visible in the teacher's own tagDictionary
// plus the jid-server set from the glossary. It is NOT byte-for-byte
// compatible with the reference client and must be replaced with the real
// dictionary before talking to the live service.
type BinaryNode struct {
	Tag     string
	Attrs   map[string]string
	// attrOrder preserves insertion order for round-trip fidelity (§8
	// invariant 1: attribute order within a node is preserved on the wire).
	attrOrder []string
	Content   interface{} // nil, []byte, or []*BinaryNode
}

// NewNode builds a BinaryNode, recording attribute order from the order in
// which SetAttr is called (or from a plain map, where order is
// unspecified — callers that care about wire-order should use SetAttr).
func NewNode(tag string, content interface{}) *BinaryNode {
	return &BinaryNode{Tag: tag, Attrs: map[string]string{}, Content: content}
}

// SetAttr sets an attribute, preserving first-set order.
func (n *BinaryNode) SetAttr(key, val string) *BinaryNode {
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	if _, exists := n.Attrs[key]; !exists {
		n.attrOrder = append(n.attrOrder, key)
	}
	n.Attrs[key] = val
	return n
}

// orderedAttrKeys returns attribute keys in wire order, falling back to a
// best-effort ordering over the map when the node wasn't built via SetAttr
// (e.g. a literal composite struct).
func (n *BinaryNode) orderedAttrKeys() []string {
	if len(n.attrOrder) == len(n.Attrs) {
		return n.attrOrder
	}
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	return keys
}

// Children returns the node's child list, or nil if content is not a list.
func (n *BinaryNode) Children() []*BinaryNode {
	if n == nil {
		return nil
	}
	children, _ := n.Content.([]*BinaryNode)
	return children
}

// GetChild returns the first child with the given tag, or nil.
func (n *BinaryNode) GetChild(tag string) *BinaryNode {
	for _, c := range n.Children() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// --- wire token families ---

const (
	tagListEmpty   = 0
	tagListStart   = 248 // LIST_8
	tagListStart16 = 249 // LIST_16
	tagJidPair     = 250
	tagBinary8     = 251
	tagBinary20    = 252
	tagBinary32    = 253
	tagNibble8     = 254
)

// dictionaryTokens is the best-effort two-bank dictionary described above.
// Index 0 is unused (reserved for LIST_EMPTY in some encodings); tokens
// start at 1. Bank boundary is arbitrary since we don't have the real
// layout — this purely has to be internally self-consistent for
// encode/decode round-trips.
var dictionaryTokens = buildDictionary()

func buildDictionary() []string {
	words := []string{
		"account", "ack", "action", "active", "add", "after", "all", "allow", "and", "android",
		"announce", "archive", "available", "battery", "before", "block", "body", "broadcast",
		"call", "call-creator", "call-id", "cancel", "caption", "chat", "child", "clear",
		"code", "composing", "config", "contact", "contacts", "count", "create", "creator",
		"decrypt", "delete", "demote", "description", "device", "devices", "disappearing",
		"done", "download", "edit", "elapsed", "encoding", "encrypt", "end", "ephemeral",
		"error", "event", "exit", "exposure", "failure", "false", "fan_out", "file",
		"filename", "format", "from", "full", "g.us", "get", "gif", "group", "groups",
		"hash", "height", "host", "id", "image", "in", "inactive", "index", "info",
		"interactive", "invite", "ios", "iq", "is", "item", "items", "jid", "keep",
		"key", "keyvalue", "keys", "kind", "large", "last", "leave", "limit",
		"linked", "list", "live", "location", "locked", "md", "media", "media_type",
		"member", "message", "messages", "meta", "mime", "mirror", "mms",
		"modify", "msg", "mute", "name", "network", "new", "news", "newsletter", "none",
		"not", "notification", "notify", "number", "of", "offline", "opt", "order", "out",
		"owner", "paid", "pairing", "participant", "participants", "paused", "phash",
		"phone", "photo", "picture", "pin", "pinned", "platform", "pn", "preview", "previous",
		"primary", "private", "promote", "props", "protocol", "push", "pushname", "query",
		"quit", "quote", "rate", "read", "reason", "receipt", "received", "recipient", "remove",
		"removed", "reply", "report", "request", "require", "reset", "resource", "result",
		"retry", "revoke", "s.whatsapp.net", "screen", "search", "sec", "secret", "seen",
		"selected", "self", "sender", "serial", "server", "session", "set", "settings",
		"side", "sig", "silent", "size", "source", "sponsor", "srcjid", "starred", "start", "status",
		"sticky", "storage", "store", "stop", "subject", "subscribe", "success", "sync",
		"system", "t", "tag", "taken", "target", "template", "terminate", "text", "thread",
		"ticket", "time", "timestamp", "to", "token", "true", "type", "unavailable", "undefined",
		"unique", "unknown", "unlock", "unread", "until", "update", "upgrade", "url", "user",
		"users", "v", "value", "version", "video", "voip", "wa", "web", "webp", "width",
		"write", "xmlns", "xmpp", "you", "years", "c.us", "lid", "business", "biz",
		"ping", "pong", "presence", "passive", "relay", "stream:error", "stream:features",
		"notification", "ib", "w:p", "encrypt", "verified_name", "identity",
	}
	// dedupe, preserving first occurrence, and reserve index 0. Jid-server
	// strings are excluded: they always take the jid-pair encoding instead
	// (see encodeString), and leaving them out of the dictionary keeps the
	// remaining slots from overrunning the 1..247 range reserved before the
	// structural tokens at 248-254.
	const maxTokens = 247
	seen := map[string]bool{}
	out := make([]string, 1, maxTokens+1)
	for _, w := range words {
		if seen[w] || jidServers[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) > maxTokens {
			break
		}
	}
	return out
}

var dictionaryIndex = func() map[string]int {
	m := make(map[string]int, len(dictionaryTokens))
	for i, w := range dictionaryTokens {
		if w != "" {
			m[w] = i
		}
	}
	return m
}()

var errUnknownToken = errors.New("binarynode: unknown token")

// EncodeBinaryNode encodes a node to the wire format.
func EncodeBinaryNode(node *BinaryNode) []byte {
	buf := new(bytes.Buffer)
	encodeNode(buf, node)
	return buf.Bytes()
}

// DecodeBinaryNode decodes a wire-format buffer. Per §4.3, the entire
// buffer must be consumed or this is a decode error.
func DecodeBinaryNode(data []byte) (*BinaryNode, error) {
	r := bytes.NewReader(data)
	node, err := decodeNode(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("binarynode: %d trailing bytes after decode", r.Len())
	}
	return node, nil
}

func encodeNode(buf *bytes.Buffer, node *BinaryNode) {
	keys := node.orderedAttrKeys()
	itemCount := 1 + 2*len(keys)
	hasContent := node.Content != nil
	if hasContent {
		itemCount++
	}
	writeListHeader(buf, itemCount)
	encodeString(buf, node.Tag)
	for _, k := range keys {
		encodeString(buf, k)
		encodeString(buf, node.Attrs[k])
	}
	if hasContent {
		encodeContent(buf, node.Content)
	}
}

func encodeContent(buf *bytes.Buffer, content interface{}) {
	switch v := content.(type) {
	case []byte:
		encodeBinary(buf, v)
	case string:
		encodeString(buf, v)
	case []*BinaryNode:
		writeListHeader(buf, len(v))
		for _, child := range v {
			encodeNode(buf, child)
		}
	default:
		panic(fmt.Sprintf("binarynode: unsupported content type %T", content))
	}
}

func writeListHeader(buf *bytes.Buffer, count int) {
	switch {
	case count == 0:
		buf.WriteByte(tagListEmpty)
	case count < 256:
		buf.WriteByte(tagListStart)
		buf.WriteByte(byte(count))
	default:
		buf.WriteByte(tagListStart16)
		binary.Write(buf, binary.BigEndian, uint16(count))
	}
}

func readListHeader(r *bytes.Reader) (int, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case tagListEmpty:
		return 0, nil
	case tagListStart:
		n, err := r.ReadByte()
		return int(n), err
	case tagListStart16:
		var n uint16
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return 0, err
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("binarynode: %w: expected list header, got 0x%02x", errUnknownToken, b)
	}
}

// isAllDigits reports whether s is a non-empty run of ASCII digits,
// eligible for the packed-nibble jid-local encoding.
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// jidServers are the fixed set of jid server components (glossary). A bare
// value equal to one of these is encoded as a jid-pair with an empty user,
// per spec.md §8 scenario 2 (`to:"s.whatsapp.net"` → `jid-pair("",
// "s.whatsapp.net")`), taking precedence over the plain dictionary token.
var jidServers = map[string]bool{
	"s.whatsapp.net": true,
	"g.us":           true,
	"broadcast":      true,
	"c.us":           true,
	"lid":            true,
	"newsletter":     true,
}

func encodeString(buf *bytes.Buffer, s string) {
	if strings.Contains(s, "@") {
		parts := strings.SplitN(s, "@", 2)
		encodeJidPair(buf, parts[0], parts[1])
		return
	}
	if jidServers[s] {
		encodeJidPair(buf, "", s)
		return
	}
	if idx, ok := dictionaryIndex[s]; ok {
		buf.WriteByte(byte(idx))
		return
	}
	if isAllDigits(s) {
		encodeNibble(buf, s)
		return
	}
	encodeBinary(buf, []byte(s))
}

func encodeJidPair(buf *bytes.Buffer, user, server string) {
	buf.WriteByte(tagJidPair)
	if user == "" {
		buf.WriteByte(tagListEmpty)
	} else {
		encodeString(buf, user)
	}
	encodeString(buf, server)
}

func encodeNibble(buf *bytes.Buffer, s string) {
	buf.WriteByte(tagNibble8)
	odd := len(s)%2 == 1
	flag := byte(0)
	if odd {
		flag = 1
	}
	buf.WriteByte(byte(len(s)/2+len(s)%2)<<1 | flag)
	for i := 0; i < len(s); i += 2 {
		hi := s[i] - '0'
		lo := byte(0x0f)
		if i+1 < len(s) {
			lo = s[i+1] - '0'
		}
		buf.WriteByte(hi<<4 | lo)
	}
}

func decodeNibble(r *bytes.Reader) (string, error) {
	b, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	odd := b&1 == 1
	numBytes := int(b >> 1)
	raw := make([]byte, numBytes)
	if _, err := ioReadFull(r, raw); err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, b := range raw {
		hi := b >> 4
		lo := b & 0x0f
		sb.WriteByte('0' + hi)
		if !(odd && i == len(raw)-1) {
			sb.WriteByte('0' + lo)
		}
	}
	return sb.String(), nil
}

func encodeBinary(buf *bytes.Buffer, data []byte) {
	switch {
	case len(data) < 256:
		buf.WriteByte(tagBinary8)
		buf.WriteByte(byte(len(data)))
	case len(data) < 1<<20:
		buf.WriteByte(tagBinary20)
		put20(buf, len(data))
	default:
		buf.WriteByte(tagBinary32)
		binary.Write(buf, binary.BigEndian, uint32(len(data)))
	}
	buf.Write(data)
}

func put20(buf *bytes.Buffer, n int) {
	buf.WriteByte(byte(n >> 16))
	buf.WriteByte(byte(n >> 8))
	buf.WriteByte(byte(n))
}

func read20(r *bytes.Reader) (int, error) {
	var b [3]byte
	if _, err := ioReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2]), nil
}

func ioReadFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, errors.New("binarynode: unexpected EOF")
		}
	}
	return n, nil
}

func decodeNode(r *bytes.Reader) (*BinaryNode, error) {
	itemCount, err := readListHeader(r)
	if err != nil {
		return nil, err
	}
	if itemCount == 0 {
		return nil, errors.New("binarynode: empty node list")
	}
	tag, err := decodeString(r)
	if err != nil {
		return nil, err
	}
	numAttrs := (itemCount - 1) / 2
	hasContent := (itemCount-1)%2 == 1

	node := &BinaryNode{Tag: tag, Attrs: map[string]string{}}
	for i := 0; i < numAttrs; i++ {
		key, err := decodeString(r)
		if err != nil {
			return nil, err
		}
		val, err := decodeString(r)
		if err != nil {
			return nil, err
		}
		node.SetAttr(key, val)
	}

	if hasContent {
		content, err := decodeContent(r)
		if err != nil {
			return nil, err
		}
		node.Content = content
	}
	return node, nil
}

// decodeContent peeks the next token to decide whether content is a child
// list or a leaf byte-string.
func decodeContent(r *bytes.Reader) (interface{}, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	r.UnreadByte()

	switch b {
	case tagListEmpty, tagListStart, tagListStart16:
		count, err := readListHeader(r)
		if err != nil {
			return nil, err
		}
		children := make([]*BinaryNode, count)
		for i := range children {
			child, err := decodeNode(r)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return children, nil
	default:
		data, err := decodeBinary(r)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}

func decodeString(r *bytes.Reader) (string, error) {
	b, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	switch {
	case int(b) < len(dictionaryTokens) && dictionaryTokens[b] != "":
		return dictionaryTokens[b], nil
	case b == tagJidPair:
		user, err := decodeJidComponent(r)
		if err != nil {
			return "", err
		}
		server, err := decodeString(r)
		if err != nil {
			return "", err
		}
		if user == "" {
			return server, nil
		}
		return user + "@" + server, nil
	case b == tagNibble8:
		r.UnreadByte()
		return decodeNibble(r)
	case b == tagBinary8, b == tagBinary20, b == tagBinary32:
		r.UnreadByte()
		data, err := decodeBinary(r)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("binarynode: %w: string token 0x%02x", errUnknownToken, b)
	}
}

func decodeJidComponent(r *bytes.Reader) (string, error) {
	b, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if b == tagListEmpty {
		return "", nil
	}
	r.UnreadByte()
	return decodeString(r)
}

func decodeBinary(r *bytes.Reader) ([]byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var length int
	switch b {
	case tagBinary8:
		n, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		length = int(n)
	case tagBinary20:
		length, err = read20(r)
		if err != nil {
			return nil, err
		}
	case tagBinary32:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		length = int(n)
	default:
		return nil, fmt.Errorf("binarynode: %w: binary token 0x%02x", errUnknownToken, b)
	}
	buf := make([]byte, length)
	if _, err := ioReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
