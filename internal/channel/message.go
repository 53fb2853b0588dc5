package channel

import (
	"encoding/json"
	"strings"
)

const (
	readyMethod = "__ready"
	readyPing   = "ping"
	readyPong   = "pong"

	scopeSeparator = "::"
)

// message is the jschannel wire format. Requests carry id+method, notifications
// only method, responses only id plus result or error/message.
type message struct {
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (m *message) isRequest() bool  { return m.Method != "" && m.ID != 0 }
func (m *message) isResponse() bool { return m.Method == "" && m.ID != 0 }

func scopeMethod(scope, method string) string {
	if scope == "" {
		return method
	}
	return scope + scopeSeparator + method
}

// unscopeMethod strips the scope prefix. ok is false for messages that belong
// to another scope.
func unscopeMethod(scope, method string) (string, bool) {
	if scope == "" {
		if strings.Contains(method, scopeSeparator) {
			return "", false
		}
		return method, true
	}

	rest, found := strings.CutPrefix(method, scope+scopeSeparator)
	if !found {
		return "", false
	}
	return rest, true
}
