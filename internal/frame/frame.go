// Package frame implements the wire codec for the tunnel transport:
// logical messages (control, HTTP request/response, heartbeat, close)
// converted to and from the textual JSON form carried over the
// WebSocket connection between server and agent.
package frame

// Type tags the logical kind of a Frame. The wire value is the exact
// lowercase string used in the JSON "type" field.
type Type string

const (
	TypeAttach   Type = "attach"
	TypeAck      Type = "ack"
	TypeError    Type = "error"
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypePing     Type = "ping"
	TypePong     Type = "pong"
	TypeClose    Type = "close"
)

// Header is a single HTTP header entry. A slice of Header preserves
// duplicate keys and wire order, unlike http.Header's map.
type Header struct {
	Key   string
	Value string
}

// Frame is the logical, decoded form of one wire message. Only the
// fields relevant to Type are populated; the rest are zero. Frame is
// intentionally a flat struct (not an interface per variant) so the
// codec can do one json.Marshal/Unmarshal pass without type-switch
// dispatch at the call site.
type Frame struct {
	Type Type

	// CONTROL(attach)
	AuthToken string

	// CONTROL(error), CLOSE
	Kind    string
	Message string

	// HTTP_REQUEST / HTTP_RESPONSE
	ID      string
	Method  string
	Path    string
	Query   string
	Status  int
	Headers []Header
	Body    []byte

	// HEARTBEAT_PING / HEARTBEAT_PONG
	Tag int64
}

// Control-plane and transport error/close kinds.
const (
	KindUnknownID        = "UNKNOWN_ID"
	KindBadToken         = "BAD_TOKEN"
	KindAlreadyAttached  = "ALREADY_ATTACHED"
	KindCapacity         = "CAPACITY"
	KindPeerClose        = "PEER_CLOSE"
	KindHeartbeatTimeout = "HEARTBEAT_TIMEOUT"
	KindProtocol         = "PROTOCOL"
	KindMalformedFrame   = "MALFORMED_FRAME"
	KindFrameTooLarge    = "FRAME_TOO_LARGE"
	KindAdminDelete      = "ADMIN_DELETE"
	KindShutdown         = "SHUTDOWN"
)
