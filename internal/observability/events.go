package observability

// EventEnvelope wraps a relay lifecycle event for the ws_events exchange.
// EventName is one of ws_connect, ws_disconnect, broadcast_drop.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders assembles the correlation headers carried on every published
// event. Empty values are omitted rather than sent blank.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
