// Package assistant implements the voice assistant's intent handlers and
// the router that dispatches dialogue turns to them.
package assistant
