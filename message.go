package realtime

import "encoding/json"

// messageType enumerates the AppSync realtime wire protocol's frame types
// (spec §6), following the graphql-ws subprotocol the teacher's
// subscription.go speaks but with AppSync's own type strings rather than
// Apollo's subscriptions-transport-ws vocabulary.
type messageType string

const (
	typeConnectionInit  messageType = "connection_init"
	typeConnectionAck   messageType = "connection_ack"
	typeConnectionError messageType = "connection_error"
	typeStart           messageType = "start"
	typeStop            messageType = "stop"
	typeStartAck        messageType = "start_ack"
	typeData            messageType = "data"
	typeError           messageType = "error"
	typeComplete        messageType = "complete"
	typeKeepAlive       messageType = "ka"
)

// operationMessage is the JSON text-frame envelope of spec §6.
type operationMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    messageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// startPayload is the payload of a client "start" frame.
type startPayload struct {
	Data       string            `json:"data"`
	Extensions startExtensions   `json:"extensions"`
}

type startExtensions struct {
	Authorization map[string]string `json:"authorization"`
}

// startData is JSON-encoded into startPayload.Data, per spec §6.
type startData struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// connectionAckPayload is the server's connection_ack payload (spec §4.4
// step 6: "capture payload.connectionTimeoutMs").
type connectionAckPayload struct {
	ConnectionTimeoutMs int64 `json:"connectionTimeoutMs"`
}

// connectionErrorPayload is the server's connection_error payload (spec
// §4.4 step 7, §6).
type connectionErrorPayload struct {
	Errors []gqlErrorDetail `json:"errors"`
}

type gqlErrorDetail struct {
	ErrorType string `json:"errorType"`
	ErrorCode int    `json:"errorCode"`
}

// dataPayload wraps a server "data" frame's GraphQL execution result.
type dataPayload struct {
	Data   json.RawMessage  `json:"data,omitempty"`
	Errors []gqlErrorDetail `json:"errors,omitempty"`
}
