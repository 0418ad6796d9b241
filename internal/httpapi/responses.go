package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"tezrelay.dev/internal/acl"
	"tezrelay.dev/internal/auth"
	"tezrelay.dev/internal/bundle"
	"tezrelay.dev/internal/contact"
	"tezrelay.dev/internal/conversations"
	"tezrelay.dev/internal/federation"
	"tezrelay.dev/internal/messaging"
	"tezrelay.dev/internal/signature"
	"tezrelay.dev/internal/store"
	"tezrelay.dev/internal/team"
	"tezrelay.dev/internal/trust"
)

// Error codes, per the external interface's error taxonomy.
const (
	codeValidation       = "VALIDATION_ERROR"
	codeUnauthorized     = "UNAUTHORIZED"
	codeInvalidToken     = "INVALID_TOKEN"
	codeForbidden        = "FORBIDDEN"
	codeNotFound         = "NOT_FOUND"
	codeMissingTeam      = "MISSING_TEAM"
	codeMissingSignature = "MISSING_SIGNATURE"
	codeInvalidSignature = "INVALID_SIGNATURE"
	codeBodyModified     = "BODY_MODIFIED"
	codeUnknownPeer      = "UNKNOWN_PEER"
	codeServerNotTrusted = "SERVER_NOT_TRUSTED"
	codeServerBlocked    = "SERVER_BLOCKED"
	codeInvalidBundle    = "INVALID_BUNDLE"
	codeInternal         = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data,omitempty"`
	Meta any `json:"meta,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeDataMeta(w http.ResponseWriter, status int, data, meta any) {
	writeJSON(w, status, envelope{Data: data, Meta: meta})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCodeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeError maps a domain error to its HTTP status and error code,
// following the taxonomy in spec §7. Unrecognized errors are reported as
// an opaque 500 INTERNAL_ERROR, never leaking their message.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeCodeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeCodeError(w, http.StatusConflict, codeValidation, "conflict")
	case errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, team.ErrInvalidInput),
		errors.Is(err, contact.ErrInvalidInput),
		errors.Is(err, conversations.ErrInvalidInput),
		errors.Is(err, messaging.ErrInvalidInput),
		errors.Is(err, messaging.ErrMaxRecipients),
		errors.Is(err, messaging.ErrMaxContext):
		writeCodeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, team.ErrForbidden),
		errors.Is(err, conversations.ErrForbidden),
		errors.Is(err, messaging.ErrForbidden):
		writeCodeError(w, http.StatusForbidden, codeForbidden, "forbidden")
	case errors.Is(err, auth.ErrInvalidToken):
		writeCodeError(w, http.StatusUnauthorized, codeInvalidToken, "invalid token")
	case errors.Is(err, bundle.ErrInvalidBundle):
		writeCodeError(w, http.StatusUnprocessableEntity, codeInvalidBundle, err.Error())
	case errors.Is(err, federation.ErrNotTrusted):
		writeCodeError(w, http.StatusForbidden, codeServerNotTrusted, "server not trusted")
	case errors.Is(err, federation.ErrBlocked):
		writeCodeError(w, http.StatusForbidden, codeServerBlocked, "server blocked")
	case errors.Is(err, federation.ErrUnknownPeer):
		writeCodeError(w, http.StatusForbidden, codeUnknownPeer, "unknown peer")
	case errors.Is(err, trust.ErrInvalidTransition):
		writeCodeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, signature.ErrMissingSignature):
		writeCodeError(w, http.StatusUnauthorized, codeMissingSignature, "missing signature")
	case errors.Is(err, signature.ErrBodyModified):
		writeCodeError(w, http.StatusUnauthorized, codeBodyModified, "body modified")
	case errors.Is(err, signature.ErrInvalidSignature), errors.Is(err, signature.ErrDateSkew):
		writeCodeError(w, http.StatusUnauthorized, codeInvalidSignature, "invalid signature")
	case errors.Is(err, signature.ErrUnknownPeer):
		writeCodeError(w, http.StatusForbidden, codeUnknownPeer, "unknown peer")
	default:
		writeCodeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// isAdminActor reports whether actor may perform a server-operator admin
// action, per the adminUserIds configured at startup.
func (a *API) isAdminActor(actor string) bool {
	return acl.IsAdminAction(acl.AdminContext{AdminUserIDs: a.cfg.AdminUserIDs, UserID: actor})
}
