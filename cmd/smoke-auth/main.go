package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Exercises the running API end to end: login, an authenticated request
// and a token refresh.
func main() {
	base := os.Getenv("GITFORGE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	user := os.Getenv("GITFORGE_SMOKE_USER")
	password := os.Getenv("GITFORGE_SMOKE_PASSWORD")
	if user == "" || password == "" {
		log.Fatal("GITFORGE_SMOKE_USER and GITFORGE_SMOKE_PASSWORD are required")
	}

	client := &http.Client{Timeout: 5 * time.Second}

	var login struct {
		Token string `json:"token"`
	}
	postJSON(client, base+"/v1/auth/login", map[string]any{
		"username": user,
		"password": password,
	}, "", &login)
	if login.Token == "" {
		log.Fatal("login returned no token")
	}

	var me struct {
		Name string `json:"name"`
	}
	getJSON(client, base+"/v1/me", login.Token, &me)
	if me.Name != user {
		log.Fatalf("identity mismatch: got %q, want %q", me.Name, user)
	}

	var refresh struct {
		Token     string `json:"token"`
		Refreshed bool   `json:"refreshed"`
	}
	postJSON(client, base+"/v1/auth/refresh", map[string]any{
		"token": login.Token,
	}, "", &refresh)
	if refresh.Token == "" {
		log.Fatal("refresh returned no token")
	}

	getJSON(client, base+"/v1/me", refresh.Token, &me)
	if me.Name != user {
		log.Fatalf("refreshed identity mismatch: got %q, want %q", me.Name, user)
	}

	fmt.Printf("✅ auth smoke test passed: user=%s refreshed=%v\n", user, refresh.Refreshed)
}

func postJSON(client *http.Client, url string, body map[string]any, token string, dst any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	doJSON(client, req, dst)
}

func getJSON(client *http.Client, url, token string, dst any) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	doJSON(client, req, dst)
}

func doJSON(client *http.Client, req *http.Request, dst any) {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("%s %s: status %d", req.Method, req.URL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		log.Fatalf("%s %s: decode: %v", req.Method, req.URL, err)
	}
}
