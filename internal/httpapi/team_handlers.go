package httpapi

import (
	"net/http"

	"tezrelay.dev/internal/auth"
)

type createTeamRequest struct {
	Name string `json:"name"`
}

func (a *API) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	t, err := a.team.Create(r.Context(), actor, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, t)
}

func (a *API) handleListTeamMembers(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	members, err := a.team.ListMembers(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, members)
}

type addTeamMemberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (a *API) handleAddTeamMember(w http.ResponseWriter, r *http.Request) {
	var req addTeamMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	if err := a.team.AddMember(r.Context(), actor, r.PathValue("id"), req.UserID, req.Role); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (a *API) handleRemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	if err := a.team.RemoveMember(r.Context(), actor, r.PathValue("id"), r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}
