// Package bundle builds and validates the federation envelope exchanged
// between relays: a Tez plus its context entries and recipient list,
// wrapped with routing metadata and a content hash. See spec §4.3.
package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

const ProtocolVersion = "1.0"

// TypeFederationDelivery is the only bundleType value the wire format
// defines (spec §4.3 fixes bundle_type = "federation_delivery"); whether a
// Tez is a root share or a reply is carried by tez.parentTezId, not by a
// separate bundle type.
const TypeFederationDelivery = "federation_delivery"

var ErrInvalidBundle = errors.New("bundle: INVALID_BUNDLE")

// Tez is the wire shape of a shared Tez inside a bundle.
type Tez struct {
	ID              string  `json:"id"`
	ThreadID        string  `json:"threadId"`
	ParentTezID     *string `json:"parentTezId,omitempty"`
	SurfaceText     string  `json:"surfaceText"`
	Type            string  `json:"type"`
	Urgency         string  `json:"urgency"`
	ActionRequested *string `json:"actionRequested,omitempty"`
	CreatedAt       string  `json:"createdAt"`
}

// ContextEntry is the wire shape of one context layer entry.
type ContextEntry struct {
	Layer      string `json:"layer"`
	Content    string `json:"content"`
	MimeType   string `json:"mimeType,omitempty"`
	Confidence *int   `json:"confidence,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Bundle is the federation envelope sent between relays' /federation/inbox
// endpoints. BundleHash is always computed over the bundle with this field
// cleared, so it is never itself included in its own preimage.
type Bundle struct {
	ProtocolVersion string         `json:"protocolVersion"`
	BundleType      string         `json:"bundleType"`
	SenderServer    string         `json:"senderServer"`
	Tez             Tez            `json:"tez"`
	Context         []ContextEntry `json:"context"`
	From            string         `json:"from"`
	To              []string       `json:"to"`
	CreatedAt       string         `json:"createdAt"`
	BundleHash      string         `json:"bundleHash"`
}

// New builds a bundle and stamps its BundleHash.
func New(bundleType, senderServer string, tez Tez, context []ContextEntry, from string, to []string, createdAt time.Time) Bundle {
	b := Bundle{
		ProtocolVersion: ProtocolVersion,
		BundleType:      bundleType,
		SenderServer:    senderServer,
		Tez:             tez,
		Context:         context,
		From:            from,
		To:              to,
		CreatedAt:       createdAt.UTC().Format(time.RFC3339),
	}
	b.BundleHash = Hash(b)
	return b
}

// Hash computes the content hash of b: sha256 over the canonical JSON
// encoding of b with BundleHash cleared, hex-encoded.
func Hash(b Bundle) string {
	b.BundleHash = ""
	canon, err := canonicalize(b)
	if err != nil {
		// Bundle's fields are all plain JSON-marshalable types; this
		// cannot fail in practice.
		panic(fmt.Sprintf("bundle: canonicalize: %v", err))
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

// Validate checks structural well-formedness and hash integrity, returning
// ErrInvalidBundle wrapping the first failing check.
func Validate(b Bundle) error {
	switch {
	case b.ProtocolVersion != ProtocolVersion:
		return fmt.Errorf("%w: unsupported protocolVersion %q", ErrInvalidBundle, b.ProtocolVersion)
	case b.BundleType != TypeFederationDelivery:
		return fmt.Errorf("%w: unknown bundleType %q", ErrInvalidBundle, b.BundleType)
	case b.SenderServer == "":
		return fmt.Errorf("%w: missing senderServer", ErrInvalidBundle)
	case b.Tez.ID == "":
		return fmt.Errorf("%w: missing tez.id", ErrInvalidBundle)
	case b.Tez.ThreadID == "":
		return fmt.Errorf("%w: missing tez.threadId", ErrInvalidBundle)
	case b.Tez.SurfaceText == "":
		return fmt.Errorf("%w: missing tez.surfaceText", ErrInvalidBundle)
	case b.From == "":
		return fmt.Errorf("%w: missing from", ErrInvalidBundle)
	case len(b.To) == 0:
		return fmt.Errorf("%w: missing to", ErrInvalidBundle)
	case b.CreatedAt == "":
		return fmt.Errorf("%w: missing createdAt", ErrInvalidBundle)
	}
	if _, err := time.Parse(time.RFC3339, b.CreatedAt); err != nil {
		return fmt.Errorf("%w: malformed createdAt: %v", ErrInvalidBundle, err)
	}
	if want := Hash(b); want != b.BundleHash {
		return fmt.Errorf("%w: bundleHash mismatch", ErrInvalidBundle)
	}
	return nil
}

// canonicalize marshals v to JSON with object keys sorted recursively, so
// the same logical bundle always hashes identically regardless of field
// ordering on the wire.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		eb, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(eb)
	}
	return nil
}
