package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"tezrelay.dev/internal/auth"
)

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func main() {
	baseURL := os.Getenv("TEZ_SMOKE_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	secret := os.Getenv("TEZ_JWT_SECRET")
	if secret == "" {
		log.Fatal("missing TEZ_JWT_SECRET")
	}
	issuer := os.Getenv("TEZ_JWT_ISSUER")
	if issuer == "" {
		issuer = "tezrelay"
	}

	tokens, err := auth.NewTokenService(secret, issuer)
	if err != nil {
		log.Fatalf("init token service: %v", err)
	}
	token, err := tokens.Issue("smoke-user", 5*time.Minute)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var team struct {
		ID string
	}
	mustJSON(client, baseURL, token, http.MethodPost, "/teams", map[string]any{"name": "smoke"}, &team)

	var root struct {
		ID       string
		ThreadID string
	}
	mustJSON(client, baseURL, token, http.MethodPost, "/tez/share", map[string]any{
		"teamId":      team.ID,
		"surfaceText": "smoke root",
		"visibility":  "team",
	}, &root)

	var reply struct {
		ID       string
		ThreadID string
	}
	mustJSON(client, baseURL, token, http.MethodPost, fmt.Sprintf("/tez/%s/reply", root.ID), map[string]any{
		"surfaceText": "smoke reply",
	}, &reply)

	if reply.ThreadID != root.ThreadID {
		log.Fatalf("reply threadId %q != root threadId %q", reply.ThreadID, root.ThreadID)
	}

	var thread []struct{ ID string }
	mustJSON(client, baseURL, token, http.MethodGet, fmt.Sprintf("/tez/%s/thread", root.ID), nil, &thread)

	if len(thread) != 2 {
		log.Fatalf("thread length = %d, want 2", len(thread))
	}
	if thread[0].ID != root.ID || thread[1].ID != reply.ID {
		log.Fatalf("unexpected thread ordering: %+v", thread)
	}

	fmt.Printf("smoke-tez passed: team=%s root=%s reply=%s\n", team.ID, root.ID, reply.ID)
}

func mustJSON(client *http.Client, baseURL, token, method, path string, body any, out any) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s %s: %v", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		log.Fatalf("new request %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read body %s %s: %v", method, path, err)
	}
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out == nil {
		return
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Fatalf("unmarshal envelope %s %s: %v", method, path, err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		log.Fatalf("unmarshal data %s %s: %v", method, path, err)
	}
}
