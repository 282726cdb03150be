package remote

import "encoding/json"

// Envelope codes.
const (
	CodeSuccess = "success_code"
	CodeError   = "error_code"
)

// Machine codes carried in error envelopes.
const (
	CodeNotAuthorized = "rest_not_authorized"
	CodeNotConnected  = "rest_not_connected"
)

// Envelope wraps every peer response. The inner Data.Status carries the
// authoritative HTTP-style code even when the outer HTTP status is 200;
// callers must trust the envelope, not the transport.
type Envelope struct {
	Message string       `json:"message"`
	Code    string       `json:"code"`
	Data    EnvelopeData `json:"data"`
}

// EnvelopeData is the payload half of the envelope.
type EnvelopeData struct {
	Status       int             `json:"status"`
	ResponseData json.RawMessage `json:"responseData"`
}

// OK reports whether the envelope signals success.
func (e *Envelope) OK() bool {
	return e.Code == CodeSuccess && e.Data.Status < 400
}

// Success builds a success envelope around data.
func Success(message string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Message: message,
		Code:    CodeSuccess,
		Data:    EnvelopeData{Status: 200, ResponseData: raw},
	}, nil
}

// Failure builds an error envelope. machineCode, when non-empty, travels
// in responseData so callers can distinguish authorization failures
// without parsing the human message.
func Failure(message, machineCode string, status int) *Envelope {
	data := json.RawMessage("null")
	if machineCode != "" {
		data, _ = json.Marshal(map[string]string{"code": machineCode})
	}
	return &Envelope{
		Message: message,
		Code:    CodeError,
		Data:    EnvelopeData{Status: status, ResponseData: data},
	}
}
