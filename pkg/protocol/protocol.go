// Package protocol defines the control API wire format shared by the
// gatelog node and invitectl.
package protocol

const (
	// MaxJSONBody is the maximum JSON request body size (64KB).
	MaxJSONBody = 65536

	// MaxPairBody is the maximum pairing request size (16KB).
	MaxPairBody = 16384

	// ContentTypeCBOR marks pairing requests and replies.
	ContentTypeCBOR = "application/cbor"

	// ContentTypeYAML marks invite exports.
	ContentTypeYAML = "application/yaml"
)

// API routes. Paths with {code} take the invite code as a path segment.
const (
	PathInfo    = "/v1/info"
	PathPair    = "/v1/pair"
	PathInvites = "/v1/invites"
	PathInvite  = "/v1/invites/{code}"
	PathClaims  = "/v1/invites/{code}/claims"
	PathTokens  = "/v1/tokens"
	PathExport  = "/v1/export"
)
