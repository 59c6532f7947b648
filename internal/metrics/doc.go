// Package metrics defines the Prometheus series exported by the webhook:
// session lifecycle, dialogue turns, Circuit API calls and HTTP traffic.
package metrics
