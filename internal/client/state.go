package client

import (
	"fmt"
	"strings"
)

// State is a NodeClient's connection lifecycle state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Stopping     State = "stopping"
	Error        State = "error"
)

// reasonText maps an MQTT 3.1.1 CONNACK return code to human-readable text.
// Codes outside the known set map to "code N".
func reasonText(code byte) string {
	switch code {
	case 1:
		return "incorrect protocol version"
	case 2:
		return "invalid client id"
	case 3:
		return "server unavailable"
	case 4:
		return "bad credentials"
	case 5:
		return "not authorized"
	default:
		return fmt.Sprintf("code %d", code)
	}
}

// connackReasonText is the fixed error text Paho's packets.ConnErrors
// produces for each CONNACK reason code, matched case-insensitively
// against a connect error's message to recover the code Paho itself
// does not expose on the token.
var connackReasonText = map[string]byte{
	"unacceptable protocol version": 1,
	"identifier rejected":           2,
	"server unavailable":            3,
	"bad user name or password":     4,
	"not authorized":                5,
}

// reasonCodeFromError recovers a CONNACK reason code from a Paho connect
// error. ok is false for network errors and anything else that didn't
// originate from a CONNACK rejection.
func reasonCodeFromError(err error) (code byte, ok bool) {
	if err == nil {
		return 0, false
	}
	msg := strings.ToLower(err.Error())
	for text, c := range connackReasonText {
		if strings.Contains(msg, text) {
			return c, true
		}
	}
	return 0, false
}

// describeConnectError renders a connect error through reasonText's
// mapping when its CONNACK reason code can be recovered, falling back to
// Paho's raw error text for anything else (network errors, timeouts).
func describeConnectError(err error) string {
	if code, ok := reasonCodeFromError(err); ok {
		return reasonText(code)
	}
	return err.Error()
}
