// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vonage

const (
	EndpointPhone     = "phone"
	EndpointWebsocket = "websocket"

	// AudioL16 is the only content type media endpoints accept.
	AudioL16 = "audio/l16;rate=16000"
)

// Endpoint addresses one side of a call.
type Endpoint struct {
	Type        string            `json:"type"`
	Number      string            `json:"number,omitempty"`
	URI         string            `json:"uri,omitempty"`
	ContentType string            `json:"content-type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// PhoneEndpoint addresses a telephone number.
func PhoneEndpoint(number string) Endpoint {
	return Endpoint{Type: EndpointPhone, Number: number}
}

// WebsocketEndpoint addresses a streaming media server.
func WebsocketEndpoint(uri string) Endpoint {
	return Endpoint{Type: EndpointWebsocket, URI: uri, ContentType: AudioL16}
}

// CreateCallRequest is the body of POST /v1/calls.
type CreateCallRequest struct {
	To           []Endpoint `json:"to"`
	From         Endpoint   `json:"from"`
	AnswerURL    []string   `json:"answer_url"`
	AnswerMethod string     `json:"answer_method"`
	EventURL     []string   `json:"event_url"`
	EventMethod  string     `json:"event_method"`
}

// CallResponse is returned when a call is created.
type CallResponse struct {
	UUID             string `json:"uuid"`
	Status           string `json:"status"`
	Direction        string `json:"direction"`
	ConversationUUID string `json:"conversation_uuid"`
}

// CallInfo is returned by GET /v1/calls/{uuid}.
type CallInfo struct {
	UUID             string   `json:"uuid"`
	ConversationUUID string   `json:"conversation_uuid"`
	Status           string   `json:"status"`
	Direction        string   `json:"direction"`
	To               Endpoint `json:"to"`
	From             Endpoint `json:"from"`
	StartTime        string   `json:"start_time,omitempty"`
	EndTime          string   `json:"end_time,omitempty"`
	Duration         string   `json:"duration,omitempty"`
}

// modifyCall is the body of PUT /v1/calls/{uuid}.
type modifyCall struct {
	Action      string       `json:"action"`
	Destination *destination `json:"destination,omitempty"`
}

type destination struct {
	Type string `json:"type"`
	NCCO any    `json:"ncco"`
}

// CallEvent is the JSON body the platform posts to event webhooks.
type CallEvent struct {
	UUID             string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	Status           string `json:"status"`
	Type             string `json:"type"`
	Direction        string `json:"direction"`
	From             string `json:"from"`
	To               string `json:"to"`
	Timestamp        string `json:"timestamp"`
}
