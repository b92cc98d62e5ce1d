package duckchat

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
)

// Token is the VQD material authorizing one chat request. It is produced by
// a challenge evaluation and superseded by the token derived from the
// response of the request it authorized.
//
// A Token is single use: once a request has been sent with it, passing it to
// another completion call fails with ErrTokenReused. Tokens must be handled
// by pointer.
type Token struct {
	ServerHashes []string        `json:"server_hashes"`
	ClientHashes []string        `json:"client_hashes"`
	Signals      json.RawMessage `json:"signals"`
	Meta         Meta            `json:"meta"`

	identity string
	used     atomic.Bool
}

// Identity returns the user agent the token was derived for, empty when the
// token was decoded from its wire form.
func (t *Token) Identity() string {
	return t.identity
}

// Used reports whether the token has already authorized a request.
func (t *Token) Used() bool {
	return t.used.Load()
}

func (t *Token) claim() bool {
	return t.used.CompareAndSwap(false, true)
}

// PrepareOutbound returns a new token carrying the same server material and
// meta with every client hash replaced by its SHA-256 digest in standard
// base64. The receiver is not modified.
func (t *Token) PrepareOutbound() *Token {
	out := &Token{
		ServerHashes: slices.Clone(t.ServerHashes),
		ClientHashes: make([]string, len(t.ClientHashes)),
		Signals:      bytes.Clone(t.Signals),
		Meta:         t.Meta.clone(),
	}
	for i, h := range t.ClientHashes {
		out.ClientHashes[i] = digest(h)
	}
	return out
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

type tokenWire struct {
	ServerHashes []string        `json:"server_hashes"`
	ClientHashes []string        `json:"client_hashes"`
	Signals      json.RawMessage `json:"signals"`
	Meta         Meta            `json:"meta"`
}

func (t *Token) MarshalJSON() ([]byte, error) {
	w := tokenWire{
		ServerHashes: t.ServerHashes,
		ClientHashes: t.ClientHashes,
		Signals:      t.Signals,
		Meta:         t.Meta,
	}
	if w.ServerHashes == nil {
		w.ServerHashes = []string{}
	}
	if w.ClientHashes == nil {
		w.ClientHashes = []string{}
	}
	if len(bytes.TrimSpace(w.Signals)) == 0 || string(w.Signals) == "null" {
		w.Signals = json.RawMessage("{}")
	}
	return json.Marshal(w)
}

func (t *Token) UnmarshalJSON(data []byte) error {
	var w tokenWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.ServerHashes = w.ServerHashes
	t.ClientHashes = w.ClientHashes
	t.Signals = w.Signals
	t.Meta = w.Meta
	return nil
}

// EncodeToken returns the X-Vqd-Hash-1 wire form of a token: standard base64
// of its JSON.
func EncodeToken(t *Token) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeToken parses the wire form produced by EncodeToken.
func DecodeToken(s string) (*Token, error) {
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("failed to decode token: %w", err)
		}
	}
	return parseToken(data)
}

// parseToken builds a token from the JSON produced by a challenge.
func parseToken(raw []byte) (*Token, error) {
	t := &Token{}
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if t.ServerHashes == nil {
		t.ServerHashes = []string{}
	}
	if t.ClientHashes == nil {
		t.ClientHashes = []string{}
	}
	if len(t.Signals) == 0 || string(t.Signals) == "null" {
		t.Signals = json.RawMessage("{}")
	}
	return t, nil
}

// Meta is the token metadata. V, ChallengeID and Timestamp expose the
// scalar value of the matching members; members other than those are kept in
// Extra. Members are sent back exactly as received unless changed: a known
// member the server never sent is only written once it is set, and null,
// boolean or structured values pass through untouched.
type Meta struct {
	V           string
	ChallengeID string
	Timestamp   string
	Extra       map[string]json.RawMessage

	// known members as received, compacted
	raw map[string]json.RawMessage
}

var metaKeys = []string{"v", "challenge_id", "timestamp"}

func (m *Meta) field(key string) *string {
	switch key {
	case "v":
		return &m.V
	case "challenge_id":
		return &m.ChallengeID
	case "timestamp":
		return &m.Timestamp
	}
	return nil
}

func (m Meta) clone() Meta {
	out := m
	out.Extra = cloneRaw(m.Extra)
	out.raw = cloneRaw(m.raw)
	return out
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = bytes.Clone(v)
	}
	return out
}

// scalar returns the string form of a string or number member, empty for
// anything else.
func scalar(raw json.RawMessage) string {
	switch {
	case len(raw) == 0:
		return ""
	case raw[0] == '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	case isNumber(string(raw)):
		return string(raw)
	}
	return ""
}

func isNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	var n json.Number
	return json.Unmarshal([]byte(s), &n) == nil
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*m = Meta{}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = Meta{}
	for key, raw := range fields {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return fmt.Errorf("meta %s: %w", key, err)
		}
		raw = buf.Bytes()

		dst := m.field(key)
		if dst == nil {
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[key] = raw
			continue
		}
		if m.raw == nil {
			m.raw = make(map[string]json.RawMessage)
		}
		m.raw[key] = raw
		*dst = scalar(raw)
	}
	return nil
}

func (m Meta) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, value []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(value)
	}

	for _, key := range metaKeys {
		val := *m.field(key)
		raw, had := m.raw[key]
		switch {
		case had && scalar(raw) == val:
			write(key, raw)
			continue
		case !had && val == "":
			continue
		case had && isNumber(string(raw)) && isNumber(val):
			write(key, []byte(val))
			continue
		}
		s, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		write(key, s)
	}

	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := m.Extra[k]
		if len(bytes.TrimSpace(v)) == 0 {
			v = json.RawMessage("null")
		}
		write(k, v)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
