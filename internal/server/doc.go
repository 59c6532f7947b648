// Package server implements the HTTP front of the voice assistant.
// It serves the fulfillment webhook and the startup probe, plus
// health, session listing and Prometheus metrics for monitoring.
package server
