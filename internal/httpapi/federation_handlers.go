package httpapi

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"tezrelay.dev/internal/bundle"
	"tezrelay.dev/internal/identity"
	"tezrelay.dev/internal/signature"
	"tezrelay.dev/internal/store"
)

func (a *API) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	id := identity.Current()
	writeData(w, http.StatusOK, map[string]any{
		"host":            id.Host,
		"serverId":        id.ServerID,
		"publicKey":       id.PublicKeyBase64(),
		"protocolVersion": bundle.ProtocolVersion,
	})
}

type verifyPeerRequest struct {
	Host      string `json:"host"`
	ServerID  string `json:"serverId"`
	PublicKey string `json:"publicKey"`
}

// handleFederationVerify admits a peer presenting itself for the first
// time. Since the presenting peer has no prior entry in the trust
// registry, the signing key used to verify this specific request is the
// public key embedded in its own body, not a registry lookup — the
// signature only proves the presenter controls the private key matching
// the identity it claims.
func (a *API) handleFederationVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "failed to read body")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req verifyPeerRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Host == "" || req.ServerID == "" || req.PublicKey == "" {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "host, serverId and publicKey are required")
		return
	}
	pub, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed publicKey")
		return
	}
	if identity.ServerID(ed25519.PublicKey(pub)) != req.ServerID {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "serverId does not match publicKey")
		return
	}

	resolve := func(keyID string) (ed25519.PublicKey, error) {
		if keyID != req.ServerID {
			return nil, signature.ErrUnknownPeer
		}
		return ed25519.PublicKey(pub), nil
	}
	sigReq := signature.Request{Method: r.Method, Path: r.URL.Path, Host: r.Host, Body: body}
	if _, err := signature.Verify(sigReq, r.Header, resolve, time.Now()); err != nil {
		writeError(w, err)
		return
	}

	level, err := a.federation.VerifyPeer(r.Context(), req.Host, req.ServerID, req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	status := "pending"
	if level == store.TrustTrusted {
		status = "trusted"
	}
	writeData(w, http.StatusOK, map[string]any{"status": status})
}

func (a *API) handleFederationInbox(w http.ResponseWriter, r *http.Request) {
	var b bundle.Bundle
	if err := decodeJSON(r, &b); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed bundle")
		return
	}
	result, err := a.federation.Admit(r.Context(), b)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if len(result.NotFound) > 0 {
		status = http.StatusMultiStatus
	}
	writeData(w, status, map[string]any{
		"accepted":    result.Accepted,
		"localTezIds": result.LocalTezIDs,
		"notFound":    result.NotFound,
	})
}
