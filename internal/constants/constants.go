package constants

import "time"

// Network defaults
const (
	DefaultPort    = "8080"
	DefaultHost    = "localhost:8080"
	RequestTimeout = 30 * time.Second
)

// OHTTP and message size limits. Both directions are bounded before any
// cryptographic work is attempted.
const (
	MaxEncapsulatedSize = 65536 // outer ciphertext, request and response
	MaxInnerMessageSize = 65536 // decoded binary HTTP message
	MaxPayloadSize      = 61440 // relayed mailbox payload; leaves envelope headroom
)

// Mailbox settings
const (
	DefaultSlotTTL  = 24 * time.Hour
	MaxPollDuration = 30 * time.Second // server-enforced long-poll bound
	MinMailboxIDLen = 4
	MaxMailboxIDLen = 64
	CleanupInterval = 30 * time.Second
	RedisKeyPrefix  = "pjdir:mailbox:"
	RedisChanPrefix = "pjdir:notify:"
)

// Key epoch settings
const (
	DefaultKeyID      = 1
	DefaultKeyOverlap = 24 * time.Hour // previous configs stay decryptable this long
	KeysCacheMaxAge   = 3600           // advertisement cache ceiling, seconds
)

// Connection limiting
const (
	MaxConnectionsPerIP = 10
)

// API endpoints
const (
	EndpointKeys    = "/ohttp-keys"
	EndpointGateway = "/"
	EndpointHealth  = "/health"
)

// Content types
const (
	ContentTypeOhttpReq  = "message/ohttp-req"
	ContentTypeOhttpRes  = "message/ohttp-res"
	ContentTypeOhttpKeys = "application/ohttp-keys"
	ContentTypeOctet     = "application/octet-stream"
)

// Messages
const (
	MsgMethodNotAllowed = "Method not allowed"
	MsgInvalidRequest   = "Invalid request"
	MsgPayloadTooLarge  = "Payload too large"
	MsgNoKeyConfig      = "Key configuration unavailable"
	MsgUsage            = "Usage: client <keys|post|poll> [args]"
	MsgExample          = "Example: client post abc123 request payload.bin"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
)
