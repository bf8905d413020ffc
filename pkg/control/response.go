package control

import "errors"

// ErrConfirmationRequired is the single control-flow error of the
// protocol: a request with SyncRaise behavior was issued without a
// suspension-capable driver. Failing loudly beats silently defaulting
// an irreversible action.
var ErrConfirmationRequired = errors.New("control: confirmation required but no suspension-capable driver is attached")

// Response resumes a suspended unit of work. RequestID must match the
// id of the request the unit most recently yielded.
type Response struct {
	RequestID string      `json:"request_id"`
	Value     interface{} `json:"value,omitempty"`
	Approved  bool        `json:"approved"`
}

// Respond builds an approving response carrying a value.
func Respond(requestID string, value interface{}) Response {
	return Response{RequestID: requestID, Value: value, Approved: true}
}

// Deny builds a denying response.
func Deny(requestID string) Response {
	return Response{RequestID: requestID, Approved: false}
}

// ResolveInput extracts the answer for a UserInput request. A nil value
// on an approving response means "no answer given" and falls back to
// the request's default value.
func ResolveInput(req *UserInput, resp *Response) interface{} {
	if resp == nil || resp.Value == nil {
		return req.DefaultValue
	}
	return resp.Value
}

// ResolveConfirmation extracts the decision for a Confirmation request.
// A nil response or an unapproved one resolves to denied; denial is a
// normal outcome, not an error.
func ResolveConfirmation(resp *Response) bool {
	if resp == nil || !resp.Approved {
		return false
	}
	if v, ok := resp.Value.(bool); ok {
		return v
	}
	return true
}
