package eventbus

// Topic is the event-bus topic every emission in spec §6 is published to.
const Topic = "api"

// ConnectionStateChangeEvent mirrors spec §6's
// {event: "ConnectionStateChange", data:{provider, connectionState}, message}.
type ConnectionStateChangeEvent struct {
	Provider        string `json:"provider"`
	ConnectionState string `json:"connectionState"`
}

// SubscriptionAckEvent mirrors spec §6's
// {event: "SubscriptionAck", data:{query, variables}, message}.
type SubscriptionAckEvent struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Envelope is the published shape: {event, data, message}.
type Envelope struct {
	Event   string      `json:"event"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}
