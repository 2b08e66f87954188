package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResponseKind tags the two shapes a response file can take.
type ResponseKind string

const (
	// ResponseDecision answers a permission request with allow or deny.
	ResponseDecision ResponseKind = "decision"
	// ResponseInstruction answers a stop event. An empty instruction means
	// "let it stop"; a non-empty one means "keep going, do this".
	ResponseInstruction ResponseKind = "instruction"
)

// Decision is the verdict inside a decision-shaped response.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// ErrMalformedResponse marks a response file that does not decode into a
// valid tagged variant.
var ErrMalformedResponse = errors.New("malformed response")

// Response is the single-use reply the daemon writes for a pending event.
// It is an explicit tagged union: exactly the fields of the tagged variant
// are meaningful, and Validate rejects anything in between.
type Response struct {
	Kind        ResponseKind `json:"kind"`
	Decision    Decision     `json:"decision,omitempty"`
	Message     string       `json:"message,omitempty"`
	Instruction string       `json:"instruction,omitempty"`
}

// AllowResponse approves a permission request.
func AllowResponse() Response {
	return Response{Kind: ResponseDecision, Decision: DecisionAllow}
}

// DenyResponse rejects a permission request with a reason shown to the agent.
func DenyResponse(message string) Response {
	return Response{Kind: ResponseDecision, Decision: DecisionDeny, Message: message}
}

// InstructionResponse resolves a stop event. Empty text lets the agent stop.
func InstructionResponse(text string) Response {
	return Response{Kind: ResponseInstruction, Instruction: text}
}

// Validate checks that the response is a well-formed variant.
func (r Response) Validate() error {
	switch r.Kind {
	case ResponseDecision:
		if r.Decision != DecisionAllow && r.Decision != DecisionDeny {
			return fmt.Errorf("%w: decision %q", ErrMalformedResponse, r.Decision)
		}
		return nil
	case ResponseInstruction:
		return nil
	default:
		return fmt.Errorf("%w: kind %q", ErrMalformedResponse, r.Kind)
	}
}

func parseResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := r.Validate(); err != nil {
		return Response{}, err
	}
	return r, nil
}
