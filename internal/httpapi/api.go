// Package httpapi exposes the relay's user-facing HTTP API and its
// server-to-server federation endpoints over a single mux, following the
// teacher's instrumented-handler pattern. See spec §6.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"tezrelay.dev/internal/auth"
	"tezrelay.dev/internal/config"
	"tezrelay.dev/internal/contact"
	"tezrelay.dev/internal/conversations"
	"tezrelay.dev/internal/federation"
	"tezrelay.dev/internal/identity"
	"tezrelay.dev/internal/messaging"
	"tezrelay.dev/internal/obs"
	"tezrelay.dev/internal/team"
	"tezrelay.dev/internal/trust"
)

// ReadyProbe checks whether the service can currently serve traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps bundles every service the HTTP layer calls into. Constructed once
// at startup in cmd/api/main.go.
type Deps struct {
	Config        *config.Config
	Tokens        *auth.TokenService
	Team          *team.Service
	Contact       *contact.Service
	Conversations *conversations.Service
	Messaging     *messaging.Service
	Federation    *federation.Service
	Trust         *trust.Registry
	ReadyProbe    ReadyProbe
	Version       string
}

type API struct {
	mux        *http.ServeMux
	cfg        *config.Config
	tokens     *auth.TokenService
	team       *team.Service
	contact    *contact.Service
	conv       *conversations.Service
	messaging  *messaging.Service
	federation *federation.Service
	trust      *trust.Registry
	readyProbe ReadyProbe
	version    string
}

func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		cfg:        d.Config,
		tokens:     d.Tokens,
		team:       d.Team,
		contact:    d.Contact,
		conv:       d.Conversations,
		messaging:  d.Messaging,
		federation: d.Federation,
		trust:      d.Trust,
		readyProbe: d.ReadyProbe,
		version:    d.Version,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("POST /teams", a.requireUser(a.handleCreateTeam))
	a.mux.Handle("GET /teams/{id}/members", a.requireUser(a.handleListTeamMembers))
	a.mux.Handle("POST /teams/{id}/members", a.requireUser(a.handleAddTeamMember))
	a.mux.Handle("DELETE /teams/{id}/members/{userId}", a.requireUser(a.handleRemoveTeamMember))

	a.mux.Handle("POST /contacts/register", a.requireUser(a.handleRegisterContact))
	a.mux.Handle("GET /contacts/me", a.requireUser(a.handleMyContact))
	a.mux.Handle("GET /contacts/search", a.requireUser(a.handleSearchContacts))
	a.mux.Handle("GET /contacts/{userId}", a.requireUser(a.handleGetContact))

	a.mux.Handle("POST /conversations", a.requireUser(a.handleCreateConversation))
	a.mux.Handle("GET /conversations", a.requireUser(a.handleListConversations))
	a.mux.Handle("POST /conversations/{id}/messages", a.requireUser(a.handlePostConversationMessage))
	a.mux.Handle("GET /conversations/{id}/messages", a.requireUser(a.handleListConversationMessages))
	a.mux.Handle("POST /conversations/{id}/read", a.requireUser(a.handleMarkConversationRead))

	a.mux.Handle("GET /unread", a.requireUser(a.handleUnread))

	a.mux.Handle("POST /tez/share", a.requireUser(a.handleShareTez))
	a.mux.Handle("GET /tez/stream", a.requireUser(a.handleStreamTez))
	a.mux.Handle("POST /tez/{id}/reply", a.requireUser(a.handleReplyTez))
	a.mux.Handle("GET /tez/{id}", a.requireUser(a.handleGetTez))
	a.mux.Handle("GET /tez/{id}/thread", a.requireUser(a.handleGetThread))

	a.mux.Handle("GET /federation/server-info", http.HandlerFunc(a.handleServerInfo))
	a.mux.Handle("POST /federation/verify", http.HandlerFunc(a.handleFederationVerify))
	a.mux.Handle("POST /federation/inbox", a.requireSignedPeer(a.handleFederationInbox))

	a.mux.Handle("GET /admin/federation/servers", a.requireAdmin(a.handleListPeers))
	a.mux.Handle("PATCH /admin/federation/servers/{host}", a.requireAdmin(a.handleSetPeerTrust))
	a.mux.Handle("DELETE /admin/federation/servers/{host}", a.requireAdmin(a.handleRemovePeer))
	a.mux.Handle("GET /admin/federation/outbox", a.requireAdmin(a.handleListOutbox))
}

func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = MaxBodyBytes(h, int64(a.cfg.MaxTezSizeBytes)+(1<<16))
	h = RateLimit(h, 40, 20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return h
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	id := identity.Current()
	writeData(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "tezrelay",
		"version":  a.version,
		"serverId": id.ServerID,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeCodeError(w, http.StatusServiceUnavailable, codeInternal, "not ready")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "ready"})
}
