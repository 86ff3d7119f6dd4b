// Package protocol owns the typed application messages carried inside
// fragments.
//
// Ownership boundary:
//   - message variants and their schema tags
//   - deterministic encode/decode through frame + tlv
//
// Every message encodes as one frame whose header carries the message type,
// so a byte stream decodes without external type hints.
package protocol
