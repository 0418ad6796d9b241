package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"tezrelay.dev/internal/auth"
	"tezrelay.dev/internal/messaging"
)

type createConversationRequest struct {
	Type      string   `json:"type"`
	MemberIDs []string `json:"memberIds"`
	Name      *string  `json:"name"`
}

func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	conv, err := a.conv.Create(r.Context(), actor, req.Type, req.MemberIDs, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, conv)
}

func (a *API) handleListConversations(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	summaries, err := a.conv.List(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, summaries)
}

type contextEntryRequest struct {
	Layer      string  `json:"layer"`
	Content    string  `json:"content"`
	MimeType   *string `json:"mimeType"`
	Confidence *int    `json:"confidence"`
	Source     *string `json:"source"`
}

type postMessageRequest struct {
	SurfaceText string                `json:"surfaceText"`
	Context     []contextEntryRequest `json:"context"`
}

func toContextInput(in []contextEntryRequest) []messaging.ContextInput {
	out := make([]messaging.ContextInput, 0, len(in))
	for _, c := range in {
		out = append(out, messaging.ContextInput{
			Layer:      c.Layer,
			Content:    c.Content,
			MimeType:   c.MimeType,
			Confidence: c.Confidence,
			Source:     c.Source,
		})
	}
	return out
}

func (a *API) handlePostConversationMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeCodeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	tez, err := a.conv.SendMessage(r.Context(), actor, r.PathValue("id"), req.SurfaceText, toContextInput(req.Context))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, tez)
}

func (a *API) handleListConversationMessages(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
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
	messages, hasMore, err := a.conv.Messages(r.Context(), actor, r.PathValue("id"), limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDataMeta(w, http.StatusOK, messages, map[string]any{"hasMore": hasMore})
}

func (a *API) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.UserIDFromContext(r.Context())
	if err := a.conv.MarkRead(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}
