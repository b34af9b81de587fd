// Package config handles configuration loading for bookmesh services.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  secret: "${BOOKMESH_AUTH_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  access_ttl: "1h"
//	  renewal_ttl: "168h"
//	  leeway: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # JSON API
//	  grpc_addr: "0.0.0.0:50051"  # gRPC services
//
// Database:
//
//	database:
//	  path: "/var/lib/bookmesh/users.db"
//
// Authentication (secret and issuer_tag must match across all services):
//
//	auth:
//	  secret: "${BOOKMESH_AUTH_SECRET}"
//	  issuer_tag: "bookmesh"
//	  access_ttl: "1h"
//	  renewal_ttl: "168h"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Signing secret presence and minimum length (32 bytes)
//   - Issuer tag presence
//   - HTTP address and database path presence
//   - Duration format validity
package config
