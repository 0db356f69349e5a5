package client

import "encoding/json"

// wsMessage is the envelope of every websocket message from the server.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsProgressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
	Node     string `json:"node"`
}

type wsExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type wsExecutionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           any    `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionMessage string `json:"exception_message"`
	ExceptionType    string `json:"exception_type"`
}

// ProgressEvent is one step of a running job as reported over the websocket.
type ProgressEvent struct {
	PromptID string
	Node     string
	Value    int
	Max      int

	// Done is set when the server reports the job finished executing.
	Done bool

	// Err carries an execution error reported by the server.
	Err error
}
