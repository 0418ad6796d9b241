package httpapi

import (
	"net/http"
	"strconv"

	"tezrelay.dev/internal/auth"
)

type registerContactRequest struct {
	DisplayName string  `json:"displayName"`
	Email       *string `json:"email"`
	AvatarURL   *string `json:"avatarUrl"`
}

func (a *API) handleRegisterContact(w http.ResponseWriter, r *http.Request) {
	var req registerContactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	c, err := a.contact.Register(r.Context(), actor, req.DisplayName, req.Email, req.AvatarURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (a *API) handleMyContact(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	c, err := a.contact.Me(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (a *API) handleGetContact(w http.ResponseWriter, r *http.Request) {
	profile, err := a.contact.Get(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

func (a *API) handleSearchContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 25
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	results, err := a.contact.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, results)
}
