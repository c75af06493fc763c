// Package marine serves per-port marine conditions for the dashboard.
//
// A refresh walks the upstream provider chain through guardedfetch, keyed
// "<provider>:<port>" so each provider and port pair has its own circuit, and
// stores the parsed result in a snapshot cache. Wind is converted to knots and
// the operability index (IOI) is computed once, at refresh time.
package marine
