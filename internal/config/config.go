// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the bridge's configuration once, from an
// optional .env file, an optional YAML file, and the environment
// (environment always wins), into an immutable Config value threaded
// through constructors rather than read ad hoc from os.Getenv. There is
// no process-wide singleton.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the bridge's fully-resolved configuration.
type Config struct {
	Port      string
	ModelID   string
	CodexBin  string
	CodexProfile string

	RpcTimeoutMs          int64
	SSEKeepaliveMs        int64
	StreamChunkChars      int
	HardRequestTimeoutMs  int64

	APIKey            string
	APIKeyHeader      string
	RequireBearer     bool

	MaxConcurrentRequests int
}

// fileConfig mirrors the subset of Config an optional YAML file may
// override; env vars always take precedence over it.
type fileConfig struct {
	Port                  string `yaml:"port"`
	ModelID               string `yaml:"model_id"`
	CodexBin              string `yaml:"codex_bin"`
	CodexProfile          string `yaml:"codex_profile"`
	RpcTimeoutMs          int64  `yaml:"rpc_timeout_ms"`
	SSEKeepaliveMs        int64  `yaml:"sse_keepalive_ms"`
	StreamChunkChars      int    `yaml:"stream_chunk_chars"`
	HardRequestTimeoutMs  int64  `yaml:"hard_request_timeout_ms"`
	APIKey                string `yaml:"api_key"`
	APIKeyHeader          string `yaml:"api_key_header"`
	RequireBearer         bool   `yaml:"require_bearer"`
	MaxConcurrentRequests int    `yaml:"max_concurrent_requests"`
}

func defaults() Config {
	return Config{
		Port:                  "8080",
		ModelID:               "codex",
		CodexBin:              "codex",
		CodexProfile:          "clean",
		RpcTimeoutMs:          30_000,
		SSEKeepaliveMs:        15_000,
		StreamChunkChars:      0,
		HardRequestTimeoutMs:  300_000,
		APIKeyHeader:          "Authorization",
		RequireBearer:         false,
		MaxConcurrentRequests: 16,
	}
}

// Load builds a Config. It optionally loads envFile (".env" semantics
// via godotenv, silently skipped if envFile doesn't exist) and
// yamlFile (silently skipped if empty or missing), then overlays
// environment variables, which always win.
func Load(envFile, yamlFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	cfg := defaults()

	if yamlFile != "" {
		if data, err := os.ReadFile(yamlFile); err == nil {
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return Config{}, fmt.Errorf("parse yaml config %s: %w", yamlFile, err)
			}
			applyFileConfig(&cfg, fc)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read yaml config %s: %w", yamlFile, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if fc.ModelID != "" {
		cfg.ModelID = fc.ModelID
	}
	if fc.CodexBin != "" {
		cfg.CodexBin = fc.CodexBin
	}
	if fc.CodexProfile != "" {
		cfg.CodexProfile = fc.CodexProfile
	}
	if fc.RpcTimeoutMs != 0 {
		cfg.RpcTimeoutMs = fc.RpcTimeoutMs
	}
	if fc.SSEKeepaliveMs != 0 {
		cfg.SSEKeepaliveMs = fc.SSEKeepaliveMs
	}
	if fc.StreamChunkChars != 0 {
		cfg.StreamChunkChars = fc.StreamChunkChars
	}
	if fc.HardRequestTimeoutMs != 0 {
		cfg.HardRequestTimeoutMs = fc.HardRequestTimeoutMs
	}
	if fc.APIKey != "" {
		cfg.APIKey = fc.APIKey
	}
	if fc.APIKeyHeader != "" {
		cfg.APIKeyHeader = fc.APIKeyHeader
	}
	cfg.RequireBearer = fc.RequireBearer
	if fc.MaxConcurrentRequests != 0 {
		cfg.MaxConcurrentRequests = fc.MaxConcurrentRequests
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("MODEL_ID"); v != "" {
		cfg.ModelID = v
	}
	if v := os.Getenv("CODEX_BIN"); v != "" {
		cfg.CodexBin = v
	}
	if v := os.Getenv("CODEX_PROFILE"); v != "" {
		cfg.CodexProfile = v
	}
	if v := envInt64("RPC_TIMEOUT_MS"); v != 0 {
		cfg.RpcTimeoutMs = v
	}
	if v := envInt64("SSE_KEEPALIVE_MS"); v != 0 {
		cfg.SSEKeepaliveMs = v
	}
	if v, ok := envIntOK("STREAM_CHUNK_CHARS"); ok {
		cfg.StreamChunkChars = v
	}
	if v := envInt64("HARD_REQUEST_TIMEOUT_MS"); v != 0 {
		cfg.HardRequestTimeoutMs = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("API_KEY_HEADER"); v != "" {
		cfg.APIKeyHeader = v
	}
	if v, ok := os.LookupEnv("REQUIRE_BEARER"); ok {
		cfg.RequireBearer = v == "1" || v == "true"
	}
	if v, ok := envIntOK("MAX_CONCURRENT_REQUESTS"); ok {
		cfg.MaxConcurrentRequests = v
	}
}

func envInt64(key string) int64 {
	v, _ := strconv.ParseInt(os.Getenv(key), 10, 64)
	return v
}

func envIntOK(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
