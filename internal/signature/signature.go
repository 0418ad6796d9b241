// Package signature implements the server-to-server HTTP signing scheme:
// a digest binding over the raw request body plus an Ed25519 signature over
// a canonical signing string built from method, path, host, date, and
// digest. See spec §4.2.
package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderDate           = "Date"
	HeaderDigest         = "Digest"
	HeaderSignature      = "Signature"
	HeaderSignatureInput = "Signature-Input"

	dateLayout = time.RFC3339

	// MaxSkew is the maximum allowed difference between the signed date
	// and the verifier's clock in either direction.
	MaxSkew = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("signature: MISSING_SIGNATURE")
	ErrBodyModified     = errors.New("signature: BODY_MODIFIED")
	ErrInvalidSignature = errors.New("signature: INVALID_SIGNATURE")
	ErrUnknownPeer      = errors.New("signature: UNKNOWN_PEER")
	ErrDateSkew         = errors.New("signature: date outside allowed skew")
)

// Request is the minimal shape the signer and verifier need, independent of
// net/http, so tests can construct one without spinning up a server.
type Request struct {
	Method string
	Path   string
	Host   string
	Body   []byte
}

// Headers holds the emitted signature headers for a signed request.
type Headers struct {
	Date           string
	Digest         string
	Signature      string
	SignatureInput string
}

// Sign computes the digest and Ed25519 signature for req and returns the
// headers to attach to the outgoing HTTP request.
func Sign(req Request, keyID string, priv ed25519.PrivateKey, now time.Time) Headers {
	digest := computeDigest(req.Body)
	date := now.UTC().Format(dateLayout)
	signingString := canonicalString(req.Method, req.Path, req.Host, date, digest)
	sig := ed25519.Sign(priv, []byte(signingString))
	return Headers{
		Date:           date,
		Digest:         digest,
		Signature:      base64.StdEncoding.EncodeToString(sig),
		SignatureInput: fmt.Sprintf(`("@method" "@path" "host" "date" "digest");keyid="%s"`, keyID),
	}
}

// Apply attaches the signed headers to an *http.Request.
func (h Headers) Apply(r *http.Request) {
	r.Header.Set(HeaderDate, h.Date)
	r.Header.Set(HeaderDigest, h.Digest)
	r.Header.Set(HeaderSignature, h.Signature)
	r.Header.Set(HeaderSignatureInput, h.SignatureInput)
}

// KeyResolver looks up a peer's public key by the keyId embedded in
// Signature-Input. Returns ErrUnknownPeer when the peer is not registered.
type KeyResolver func(keyID string) (ed25519.PublicKey, error)

// Verify reconstructs the signing string from req and the inbound headers,
// recomputes the digest from the raw body (never from a parsed
// representation), and validates the Ed25519 signature against the public
// key resolved for the Signature-Input keyid. now is the verifier's clock,
// used for the date-skew check.
func Verify(req Request, headers http.Header, resolve KeyResolver, now time.Time) (keyID string, err error) {
	date := headers.Get(HeaderDate)
	digest := headers.Get(HeaderDigest)
	sigB64 := headers.Get(HeaderSignature)
	sigInput := headers.Get(HeaderSignatureInput)
	if date == "" || digest == "" || sigB64 == "" || sigInput == "" {
		return "", ErrMissingSignature
	}

	keyID, err = parseKeyID(sigInput)
	if err != nil {
		return "", ErrMissingSignature
	}

	wantDigest := computeDigest(req.Body)
	if digest != wantDigest {
		return "", ErrBodyModified
	}

	signedAt, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", ErrMissingSignature
	}
	if skew := now.Sub(signedAt); skew > MaxSkew || skew < -MaxSkew {
		return "", ErrDateSkew
	}

	pub, err := resolve(keyID)
	if err != nil {
		return "", ErrUnknownPeer
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return "", ErrInvalidSignature
	}

	signingString := canonicalString(req.Method, req.Path, req.Host, date, digest)
	if !ed25519.Verify(pub, []byte(signingString), sig) {
		return "", ErrInvalidSignature
	}

	return keyID, nil
}

func computeDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

func canonicalString(method, path, host, date, digest string) string {
	tokens := []string{
		"@method: " + method,
		"@path: " + path,
		"host: " + host,
		"date: " + date,
		"digest: " + digest,
	}
	return strings.Join(tokens, "\n")
}

func parseKeyID(signatureInput string) (string, error) {
	const marker = `keyid="`
	idx := strings.Index(signatureInput, marker)
	if idx < 0 {
		return "", errors.New("signature: missing keyid in Signature-Input")
	}
	rest := signatureInput[idx+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", errors.New("signature: malformed keyid in Signature-Input")
	}
	keyID := rest[:end]
	if keyID == "" {
		return "", errors.New("signature: empty keyid in Signature-Input")
	}
	return keyID, nil
}
