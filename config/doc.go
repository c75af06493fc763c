// Package config loads the service configuration from config.yaml, a .env file
// and environment variables, applies defaults and validates the result. It
// covers the HTTP server, logging, fetch policy, snapshot cache, upstream
// providers, port catalog and the pre-warm loop.
package config
