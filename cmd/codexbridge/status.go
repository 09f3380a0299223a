// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Render a snapshot of a running bridge's /health endpoint",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "base URL of the running bridge")
	rootCmd.AddCommand(statusCmd)
}

// healthSnapshot mirrors the JSON shape returned by GET /health.
type healthSnapshot struct {
	OK          bool `json:"ok"`
	Model       string `json:"model"`
	CircuitOpen bool   `json:"circuitOpen"`
	RateLimited bool   `json:"rateLimited"`
	Codex       struct {
		Pid           int     `json:"Pid"`
		RestartCount  int     `json:"RestartCount"`
		UptimeSeconds float64 `json:"UptimeSeconds"`
		PendingRpc    int     `json:"PendingRpc"`
		ActiveStreams int     `json:"ActiveStreams"`
		CircuitOpen   bool    `json:"CircuitOpen"`
	} `json:"codex"`
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")).Bold(true)
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statusAddr + "/health")
	if err != nil {
		return fmt.Errorf("fetch health: %w", err)
	}
	defer resp.Body.Close()

	var snap healthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderStatus(snap))
	return nil
}

// renderStatus builds the status dashboard text, a thin CLI affordance
// rendering ChildSupervisor.Status() rather than anything part of the
// core bridging engine.
func renderStatus(s healthSnapshot) string {
	ok := okStyle.Render("ok")
	if !s.OK {
		ok = badStyle.Render("down")
	}
	circuit := okStyle.Render("closed")
	if s.CircuitOpen {
		circuit = badStyle.Render("open")
	}

	lines := []string{
		fmt.Sprintf("%s %s", labelStyle.Render("bridge:"), ok),
		fmt.Sprintf("%s %s", labelStyle.Render("model:"), s.Model),
		fmt.Sprintf("%s %d", labelStyle.Render("pid:"), s.Codex.Pid),
		fmt.Sprintf("%s %.0fs", labelStyle.Render("uptime:"), s.Codex.UptimeSeconds),
		fmt.Sprintf("%s %d", labelStyle.Render("restarts:"), s.Codex.RestartCount),
		fmt.Sprintf("%s %d", labelStyle.Render("active streams:"), s.Codex.ActiveStreams),
		fmt.Sprintf("%s %d", labelStyle.Render("pending rpc:"), s.Codex.PendingRpc),
		fmt.Sprintf("%s %s", labelStyle.Render("circuit:"), circuit),
	}

	var out string
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}
