package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/grants/01ABCDEF":       "/v1/grants/:id",
		"/v1/grants":                "/v1/grants",
		"/v1/auth/login":            "/v1/auth/login",
		"/v1/auth/refresh?source=x": "/v1/auth/refresh",
		"/v1/me":                    "/v1/me",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
