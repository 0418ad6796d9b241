package httpapi

import (
	"net/http"
	"strconv"
)

func (a *API) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := a.federation.ListPeers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, peers)
}

type setPeerTrustRequest struct {
	TrustLevel string `json:"trustLevel"`
}

func (a *API) handleSetPeerTrust(w http.ResponseWriter, r *http.Request) {
	var req setPeerTrustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return
	}
	if err := a.federation.SetPeerTrust(r.Context(), r.PathValue("host"), req.TrustLevel); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (a *API) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	if err := a.federation.RemovePeer(r.Context(), r.PathValue("host")); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (a *API) handleListOutbox(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	deliveries, err := a.federation.ListOutbox(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, deliveries)
}
