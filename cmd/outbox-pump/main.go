// Command outbox-pump drains the outbound federation delivery queue: it
// claims due OutboundDelivery rows, signs and POSTs their bundle to the
// target host's /federation/inbox, and marks each attempt sent or failed
// with backoff. See spec §4.8.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tezrelay.dev/internal/config"
	"tezrelay.dev/internal/identity"
	"tezrelay.dev/internal/obs"
	"tezrelay.dev/internal/signature"
	"tezrelay.dev/internal/store"
	"tezrelay.dev/internal/store/pg"
)

const (
	pollInterval   = 2 * time.Second
	idleBackoff    = 5 * time.Second
	maxBackoff     = 10 * time.Minute
	baseBackoff    = 10 * time.Second
	connectTimeout = 5 * time.Second
	totalTimeout   = 30 * time.Second
)

// neverRetry pushes a permanently-failed delivery's next_attempt_at far
// enough out that ClaimOutboundDelivery will not pick it up again.
var neverRetry = time.Now().AddDate(100, 0, 0)

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

	st, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()

	client := &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("outbox-pump starting for %s (serverId=%s)", id.Host, id.ServerID)
	run(ctx, st, id, client)
	log.Println("outbox-pump stopped")
}

func run(ctx context.Context, st *pg.Store, id *identity.Identity, client *http.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d, err := st.ClaimOutboundDelivery(ctx)
		if errors.Is(err, store.ErrNotFound) {
			sleep(ctx, idleBackoff)
			continue
		}
		if err != nil {
			log.Printf(`{"type":"claim_failed","error":%q}`, err.Error())
			sleep(ctx, idleBackoff)
			continue
		}

		deliver(ctx, st, id, client, d)
		sleep(ctx, pollInterval)
	}
}

func deliver(ctx context.Context, st *pg.Store, id *identity.Identity, client *http.Client, d *store.OutboundDelivery) {
	path := "/federation/inbox"
	url := fmt.Sprintf("https://%s%s", d.TargetHost, path)
	body := []byte(d.Bundle)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		completeFailed(ctx, st, d, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	now := time.Now()
	headers := signature.Sign(signature.Request{
		Method: http.MethodPost,
		Path:   path,
		Host:   d.TargetHost,
		Body:   body,
	}, id.ServerID, id.PrivateKey, now)
	headers.Apply(req)

	resp, err := client.Do(req)
	if err != nil {
		completeFailed(ctx, st, d, err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusMultiStatus:
		if err := st.CompleteOutboundDelivery(ctx, d.ID, true, time.Time{}); err != nil {
			log.Printf(`{"type":"complete_failed","delivery_id":%q,"error":%q}`, d.ID, err.Error())
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Peer rejected the bundle outright; retrying won't help, so the
		// row is left failed with no further attempt scheduled.
		log.Printf(`{"type":"delivery_permanent_failure","delivery_id":%q,"target_host":%q,"status":%d}`, d.ID, d.TargetHost, resp.StatusCode)
		if err := st.CompleteOutboundDelivery(ctx, d.ID, false, neverRetry); err != nil {
			log.Printf(`{"type":"complete_failed","delivery_id":%q,"error":%q}`, d.ID, err.Error())
		}
	default:
		completeFailed(ctx, st, d, fmt.Errorf("status %d", resp.StatusCode))
	}
}

func completeFailed(ctx context.Context, st *pg.Store, d *store.OutboundDelivery, cause error) {
	retryAt := time.Now().Add(backoff(d.Attempts))
	log.Printf(`{"type":"delivery_failed","delivery_id":%q,"target_host":%q,"attempts":%d,"retry_at":%q,"error":%q}`,
		d.ID, d.TargetHost, d.Attempts+1, retryAt.Format(time.RFC3339), cause.Error())
	if err := st.CompleteOutboundDelivery(ctx, d.ID, false, retryAt); err != nil {
		log.Printf(`{"type":"complete_failed","delivery_id":%q,"error":%q}`, d.ID, err.Error())
	}
}

// backoff grows exponentially with the number of prior attempts, capped at
// maxBackoff.
func backoff(attempts int) time.Duration {
	d := baseBackoff << attempts
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
