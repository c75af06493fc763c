// Package handler implements the dashboard HTTP endpoints: per-port marine
// snapshots, the port catalog and service health. Service errors are mapped to
// 400, 502 or 503 with Retry-After, and successful bodies carry an ETag.
package handler
