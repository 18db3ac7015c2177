// devseed bootstraps a usable account against a running syncd server:
// it requests a magic link, verifies it (dev mailer echoes the token
// back in the response so no real inbox is needed), and opens a brief
// /sync connection to trigger the server's auto-create-workspace path,
// since there is no POST /api/workspaces endpoint.
//
// Usage:
//
//	go run ./cmd/devseed --base-url http://localhost:8080 --email dev@example.com --workspace dev
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "syncd server base URL")
	email := flag.String("email", "dev@example.com", "account email for the magic link")
	deviceName := flag.String("device", "devseed", "device name to register")
	workspaceID := flag.String("workspace", "dev", "workspace id to auto-create")
	flag.Parse()

	ctx := context.Background()

	token, err := requestMagicLink(ctx, *baseURL, *email, *deviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devseed: requesting magic link: %v\n", err)
		os.Exit(1)
	}

	session, err := verifyMagicLink(ctx, *baseURL, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devseed: verifying magic link: %v\n", err)
		os.Exit(1)
	}

	if err := touchWorkspace(ctx, *baseURL, *workspaceID, session.SessionToken); err != nil {
		fmt.Fprintf(os.Stderr, "devseed: creating workspace: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("user:      %s\n", *email)
	fmt.Printf("device:    %s (%s)\n", *deviceName, session.DeviceID)
	fmt.Printf("session:   %s\n", session.SessionToken)
	fmt.Printf("workspace: %s\n", *workspaceID)
	fmt.Printf("\nconnect with: %s/sync?doc=%s (Authorization: Bearer %s)\n", toWS(*baseURL), *workspaceID, session.SessionToken)
}

func requestMagicLink(ctx context.Context, baseURL, email, deviceName string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "device_name": deviceName})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/magic-link", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}

	if out.Token == "" {
		return "", fmt.Errorf("no token in response — server is not running with the dev mailer")
	}

	return out.Token, nil
}

type sessionInfo struct {
	SessionToken string `json:"session_token"`
	DeviceID     string `json:"device_id"`
}

func verifyMagicLink(ctx context.Context, baseURL, token string) (*sessionInfo, error) {
	u := baseURL + "/auth/verify?token=" + url.QueryEscape(token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, string(data))
	}

	var out sessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// touchWorkspace opens and immediately closes a metadata-scope /sync
// connection, which is enough to exercise the server's auto-create
// path for an unknown doc= id.
func touchWorkspace(ctx context.Context, baseURL, workspaceID, sessionToken string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	u := fmt.Sprintf("%s/sync?doc=%s", toWS(baseURL), url.QueryEscape(workspaceID))

	conn, _, err := websocket.Dial(dialCtx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + sessionToken}},
	})
	if err != nil {
		return err
	}

	return conn.Close(websocket.StatusNormalClosure, "devseed: bootstrap complete")
}

func toWS(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
