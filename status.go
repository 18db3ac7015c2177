package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// serverStatus mirrors the JSON shape of GET /api/status.
type serverStatus struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	ActiveConnections int    `json:"active_connections"`
	ActiveRooms       int    `json:"active_rooms"`
	UptimeSeconds     int    `json:"uptime_seconds"`
	GoVersion         string `json:"go_version"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query a running server's health and room activity",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	baseURL := cc.Cfg.Server.BaseURL

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/api/status")
	if err != nil {
		return fmt.Errorf("querying %s/api/status: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var st serverStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decoding status response: %w", err)
	}

	printTable(cmd.OutOrStdout(),
		[]string{"STATUS", "VERSION", "ROOMS", "CONNECTIONS", "UPTIME", "GO", "AS OF"},
		[][]string{{
			st.Status,
			st.Version,
			fmt.Sprintf("%d", st.ActiveRooms),
			fmt.Sprintf("%d", st.ActiveConnections),
			(time.Duration(st.UptimeSeconds) * time.Second).String(),
			st.GoVersion,
			formatTime(time.Now()),
		}})

	return nil
}
