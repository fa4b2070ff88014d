// Package config builds the immutable runtime configuration of botfile-proxy.
//
// # Sources
//
// Settings are merged from, in order of precedence:
//
//  1. Command-line flags (RegisterFlags)
//  2. Environment variables (PROXY_TO, BASE_FOLDER, HOST, PORT, LOG_LEVEL, ...)
//  3. An optional config file given by --config, TOML by default or YAML
//     when the name ends in .yaml/.yml
//  4. Built-in defaults
//
// Example TOML file:
//
//	proxy_to    = "http://localhost:8081"
//	base_folder = "/var/lib/telegram-bot-api"
//	host        = "0.0.0.0"
//	port        = 3000
//	log_level   = "debug"
//
// # Validation
//
// New normalizes the upstream to http://<authority> (https and scheme-less
// URLs are rejected with a suggested replacement) and canonicalizes the base
// folder, which must exist. The resulting Config is never mutated; it is
// passed explicitly to the proxy server.
package config
