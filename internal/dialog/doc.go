// Package dialog decodes voice-dialogue webhook turns and builds their replies.
// It speaks the Dialogflow v2 fulfillment format with an Actions on Google
// payload, and tracks the per-conversation contexts a turn reads and writes.
package dialog
