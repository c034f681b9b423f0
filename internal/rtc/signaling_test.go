package rtc

import (
	"net/http/httptest"
	"testing"
)

func TestCheckAuthHeaderOrQuery(t *testing.T) {
	cases := []struct {
		name     string
		target   string
		header   map[string]string
		password string
		want     bool
	}{
		{"query match", "/ws/call?room=r1&password=s3cret", nil, "s3cret", true},
		{"query mismatch", "/ws/call?password=wrong", nil, "s3cret", false},
		{"bearer match", "/ws/call", map[string]string{"Authorization": "Bearer s3cret"}, "s3cret", true},
		{"x-auth-token match", "/ws/call", map[string]string{"X-Auth-Token": "s3cret"}, "s3cret", true},
		{"no credentials", "/ws/call", nil, "s3cret", false},
		{"empty password never matches", "/ws/call", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.target, nil)
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			if got := checkAuthHeaderOrQuery(r, tc.password); got != tc.want {
				t.Fatalf("checkAuthHeaderOrQuery = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseICEServers(t *testing.T) {
	servers := parseICEServers(`[{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"c"}]`)
	if len(servers) != 1 || servers[0].URLs[0] != "turn:turn.example.com:3478" {
		t.Fatalf("servers = %+v", servers)
	}

	// malformed input falls back to the public STUN server
	servers = parseICEServers("not json")
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("fallback servers = %+v", servers)
	}
}
