package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"tezrelay.dev/internal/auth"
	"tezrelay.dev/internal/messaging"
)

type shareTezRequest struct {
	TeamID          *string               `json:"teamId"`
	ConversationID  *string               `json:"conversationId"`
	SurfaceText     string                `json:"surfaceText"`
	Type            string                `json:"type"`
	Urgency         string                `json:"urgency"`
	ActionRequested *string               `json:"actionRequested"`
	Visibility      string                `json:"visibility"`
	Recipients      []string              `json:"recipients"`
	Context         []contextEntryRequest `json:"context"`
}

func (a *API) handleShareTez(w http.ResponseWriter, r *http.Request) {
	var req shareTezRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	tez, err := a.messaging.Share(r.Context(), messaging.ShareInput{
		Actor:           actor,
		TeamID:          req.TeamID,
		ConversationID:  req.ConversationID,
		SurfaceText:     req.SurfaceText,
		Type:            req.Type,
		Urgency:         req.Urgency,
		ActionRequested: req.ActionRequested,
		Visibility:      req.Visibility,
		Recipients:      req.Recipients,
		Context:         toContextInput(req.Context),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, tez)
}

type replyTezRequest struct {
	SurfaceText string                `json:"surfaceText"`
	Recipients  []string              `json:"recipients"`
	Context     []contextEntryRequest `json:"context"`
}

func (a *API) handleReplyTez(w http.ResponseWriter, r *http.Request) {
	var req replyTezRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	tez, err := a.messaging.Reply(r.Context(), actor, r.PathValue("id"), req.SurfaceText, toContextInput(req.Context), req.Recipients)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, tez)
}

func (a *API) handleGetTez(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	view, err := a.messaging.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

func (a *API) handleGetThread(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	thread, err := a.messaging.Thread(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, thread)
}

func (a *API) handleStreamTez(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("teamId")
	if teamID == "" {
		writeCodeError(w, http.StatusBadRequest, codeMissingTeam, "teamId is required")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var before *time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			before = &t
		}
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	tez, hasMore, err := a.messaging.Stream(r.Context(), actor, teamID, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDataMeta(w, http.StatusOK, tez, map[string]any{"hasMore": hasMore})
}

func (a *API) handleUnread(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	teams, err := a.team.CountUnread(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries, err := a.conv.List(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	conversationsUnread := map[string]int{}
	total := 0
	for _, s := range summaries {
		if s.UnreadCount > 0 {
			conversationsUnread[s.Conversation.ID] = s.UnreadCount
		}
		total += s.UnreadCount
	}
	for _, n := range teams {
		total += n
	}
	writeData(w, http.StatusOK, map[string]any{
		"teams":         teams,
		"conversations": conversationsUnread,
		"total":         total,
	})
}
