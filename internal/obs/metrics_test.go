package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                            "/",
		"/metrics":                                    "/metrics",
		"/teams/01HZY.../members":                     "/teams/:id/members",
		"/teams/01HZY.../members/01HZA...":            "/teams/:id/members/:userId",
		"/contacts/me":                                "/contacts/me",
		"/contacts/register":                          "/contacts/register",
		"/contacts/search":                            "/contacts/search",
		"/contacts/01HZY...":                          "/contacts/:userId",
		"/conversations/01HZY.../messages":             "/conversations/:id/messages",
		"/conversations/01HZY.../read":                 "/conversations/:id/read",
		"/tez/share":                                   "/tez/share",
		"/tez/stream":                                  "/tez/stream",
		"/tez/01HZY...":                                "/tez/:id",
		"/tez/01HZY.../reply":                          "/tez/:id/reply",
		"/tez/01HZY.../thread":                         "/tez/:id/thread",
		"/admin/federation/servers/relay.example.com":  "/admin/federation/servers/:host",
		"/admin/federation/outbox":                     "/admin/federation/outbox",
		"/federation/server-info?foo=bar":              "/federation/server-info",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
