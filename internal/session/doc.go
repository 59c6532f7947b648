// Package session provides per-user platform session management and lifecycle handling.
// It binds a voice-platform user to one authenticated Circuit handle, coalesces
// concurrent logons for the same user, and tears sessions down when their
// timeout fires or the process shuts down.
package session
