// Package protocol defines the streaming wire messages.
// Server messages are JSON text frames tagged by "type"; client control
// frames are validated against a schema before they are decoded.
package protocol
