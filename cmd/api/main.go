package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tezrelay.dev/internal/audit"
	"tezrelay.dev/internal/auth"
	"tezrelay.dev/internal/config"
	"tezrelay.dev/internal/contact"
	"tezrelay.dev/internal/conversations"
	"tezrelay.dev/internal/federation"
	"tezrelay.dev/internal/httpapi"
	"tezrelay.dev/internal/identity"
	"tezrelay.dev/internal/messaging"
	"tezrelay.dev/internal/obs"
	"tezrelay.dev/internal/store/pg"
	"tezrelay.dev/internal/team"
	"tezrelay.dev/internal/trust"
)

var version = "0.1.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	id, err := identity.Load(cfg.DataDir, cfg.RelayHost)
	if err != nil {
		log.Fatalf("load identity: %v", err)
	}
	identity.SetCurrent(id)

	st, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		log.Fatalf("init token service: %v", err)
	}

	auditSink := audit.NewSink(st)
	registry := trust.NewRegistry(st, trust.Policy{Mode: cfg.FederationMode})
	fed := federation.NewService(st, registry, cfg.RelayHost, cfg.FederationEnabled)
	msg := messaging.NewService(st, fed, auditSink, messaging.Limits{
		MaxTezSizeBytes: cfg.MaxTezSizeBytes,
		MaxContextItems: cfg.MaxContextItems,
		MaxRecipients:   cfg.MaxRecipients,
	})
	teamSvc := team.NewService(st, auditSink)
	contactSvc := contact.NewService(st, auditSink, cfg.RelayHost)
	convSvc := conversations.NewService(st, msg, auditSink)

	api := httpapi.New(httpapi.Deps{
		Config:        cfg,
		Tokens:        tokens,
		Team:          teamSvc,
		Contact:       contactSvc,
		Conversations: convSvc,
		Messaging:     msg,
		Federation:    fed,
		Trust:         registry,
		ReadyProbe:    httpapi.ReadyProbe{DB: st.DB()},
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting tezrelay %s on %s (serverId=%s)", version, srv.Addr, id.ServerID)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = st.Close()
	log.Println("stopped")
}
