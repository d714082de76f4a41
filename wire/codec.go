package wire

import (
	"encoding/json"
	"fmt"

	"chat-relay/domain"
	"chat-relay/errors"
)

// Decode parses one framed line into an Envelope. A failure is never fatal
// to the connection; callers skip the offending line.
func Decode(line string) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
	}
	return env, nil
}

// Encode serializes an Envelope and appends the line terminator, producing
// the exact bytes to write on a session's transport.
func Encode(env domain.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return append(data, '\n'), nil
}
