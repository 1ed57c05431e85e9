// ABOUTME: Text (JSON) envelopes of the wsdsp protocol
// ABOUTME: Request wrapper sent by clients and the correlated response documents
package protocol

import "encoding/json"

// TextRequest wraps a caller payload with its correlation id.
type TextRequest struct {
	ID      uint32 `json:"id"`
	Message any    `json:"message"`
}

// TextResponse is the document shape servers reply with. Only ID and Final
// take part in correlation; the rest is application payload.
type TextResponse struct {
	ID      uint32          `json:"id"`
	Final   bool            `json:"responseFinal,omitempty"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Control requests understood by the wsdsp server.
const (
	TypePing       = "ping"
	TypePong       = "pong"
	TypeOperations = "operations"
	TypeStats      = "stats"
	TypeError      = "error"
)

// ControlRequest is the message body of a text request to the wsdsp server.
type ControlRequest struct {
	Type       string `json:"type"`
	Count      int    `json:"count,omitempty"`
	IntervalMs int    `json:"intervalMs,omitempty"`
}

// StatsPayload is carried by "stats" replies.
type StatsPayload struct {
	Sequence int    `json:"sequence"`
	Sessions int    `json:"sessions"`
	Requests uint64 `json:"requests"`
	Errors   uint64 `json:"errors"`
	UptimeMs int64  `json:"uptimeMs"`
}

// OperationInfo is one entry of an "operations" reply.
type OperationInfo struct {
	Code uint32 `json:"code"`
	Name string `json:"name"`
}

// correlationHeader is the part of an inbound text document the client reads.
type correlationHeader struct {
	ID    *uint32 `json:"id"`
	Final bool    `json:"responseFinal"`
}
