// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command codexbridge runs the Codex MCP streaming HTTP bridge: it
// supervises a `codex mcp-server` child process and exposes an
// OpenAI-compatible HTTP surface in front of it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "codexbridge",
	Short: "OpenAI-compatible HTTP bridge in front of a Codex MCP child process",
	Long: `codexbridge supervises a "codex mcp-server" child process over
line-delimited JSON-RPC stdio and exposes an OpenAI-compatible HTTP
surface (chat completions, models, embeddings) in front of it,
translating the child's streamed events into Server-Sent Events.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
