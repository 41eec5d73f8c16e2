// Package config handles configuration loading for the lumen clients.
//
// Configuration is loaded from YAML files with ${VAR_NAME} environment
// variable expansion, collection-name defaults, and duration parsing for
// the presence heartbeat. The default file location is resolved by the
// binaries: LUMEN_CONFIG, then $XDG_CONFIG_HOME/lumen/lumen.yaml, then
// ~/.config/lumen/lumen.yaml.
//
// Example:
//
//	backend:
//	  endpoint: "https://backend.example.com"
//	  project: "lumen"
//	  api_key: "${LUMEN_API_KEY}"
//	  database: "chat"
//	presence:
//	  heartbeat_interval: "30s"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
