// Package config handles configuration loading for chatrelay.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion. Every field has a default, so a file only
// needs to name what it changes.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATRELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatrelay/config.yaml
//  3. ~/.config/chatrelay/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	upstream:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:5000"
//
//	storage:
//	  driver: "file"        # or "sqlite"
//	  path: "./data"
//
//	upstream:
//	  base_url: "http://localhost:11434/v1"
//	  model: "gemma2:2b"
//	  timeout: "120s"
//	  history_window: 10
//
//	summarize:
//	  words_per_chunk: 300
//	  excerpt_chars: 150
//	  ytdlp_path: "yt-dlp"
//
//	ratelimit:
//	  requests_per_second: 2
//	  burst: 5
//
//	logging:
//	  level: "info"         # debug, info, warn, error
//	  format: "text"        # text or json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
