// Package platform defines the capability surface of the Circuit collaboration
// platform consumed by the assistant, and implements it over the Circuit REST API.
// A Connector authenticates an access token into a Client handle; the handle
// exposes user and conversation search, messaging, conference and click-to-call
// operations.
package platform
