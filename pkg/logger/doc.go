// Package logger builds the structured slog logger shared by every component.
// Output is text or JSON on stdout, tagged with the service name and
// environment.
package logger
