// Package healthcheck keeps port snapshots warm by refreshing them on a fixed
// interval, so dashboard requests rarely wait on the upstream.
package healthcheck
