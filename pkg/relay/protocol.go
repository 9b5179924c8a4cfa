package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/odvcencio/twine/pkg/object"
)

const (
	// ProtocolVersion is the current relay protocol version.
	ProtocolVersion = "1"

	// ClientCapabilities lists all capabilities this client supports.
	ClientCapabilities = "zstd"

	headerProtocol     = "Twine-Protocol"
	headerCapabilities = "Twine-Capabilities"

	contentTypeTwist = "application/x-toda"

	suffixNext   = ".next.toda"
	suffixTwist  = ".toda"
	suffixShield = ".shield"
)

// Capabilities represents a set of protocol capabilities.
type Capabilities struct {
	set map[string]struct{}
}

// ParseCapabilities parses a comma-separated capability string.
func ParseCapabilities(raw string) Capabilities {
	caps := Capabilities{set: make(map[string]struct{})}
	for _, cap := range strings.Split(raw, ",") {
		cap = strings.TrimSpace(cap)
		if cap != "" {
			caps.set[cap] = struct{}{}
		}
	}
	return caps
}

// Has returns true if the capability is present.
func (c Capabilities) Has(name string) bool {
	_, ok := c.set[name]
	return ok
}

// String returns a sorted comma-separated capability string.
func (c Capabilities) String() string {
	names := make([]string, 0, len(c.set))
	for k := range c.set {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// HoistRequest is the body of POST /hoist. Keys and values are hex hashes.
type HoistRequest struct {
	RelayTwist string            `json:"relay-twist"`
	Rigging    map[string]string `json:"hoist-request"`
}

// NewHoistRequest encodes rigging entries to be recorded after relayTwist.
func NewHoistRequest(relayTwist object.Hash, rigging map[object.Hash]object.Hash) HoistRequest {
	req := HoistRequest{RelayTwist: relayTwist.Hex(), Rigging: make(map[string]string, len(rigging))}
	for k, v := range rigging {
		req.Rigging[k.Hex()] = v.Hex()
	}
	return req
}

// Decode parses the request's hashes.
func (h HoistRequest) Decode(reg *object.Registry) (object.Hash, map[object.Hash]object.Hash, error) {
	relay, err := reg.ParseHex(h.RelayTwist)
	if err != nil {
		return "", nil, fmt.Errorf("relay-twist: %w", err)
	}
	if len(h.Rigging) == 0 {
		return "", nil, fmt.Errorf("hoist-request is empty")
	}
	rig := make(map[object.Hash]object.Hash, len(h.Rigging))
	for k, v := range h.Rigging {
		kh, err := reg.ParseHex(k)
		if err != nil {
			return "", nil, fmt.Errorf("hoist-request key %q: %w", k, err)
		}
		vh, err := reg.ParseHex(v)
		if err != nil {
			return "", nil, fmt.Errorf("hoist-request value %q: %w", v, err)
		}
		rig[kh] = vh
	}
	return relay, rig, nil
}

// RemoteError is a structured error from the relay.
type RemoteError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// tryParseRemoteError attempts to parse a JSON error response body.
func tryParseRemoteError(status int, body []byte) *RemoteError {
	var re RemoteError
	if err := json.Unmarshal(body, &re); err != nil {
		return nil
	}
	if re.Message == "" && re.Code == "" {
		return nil
	}
	re.Status = status
	return &re
}

func writeRemoteError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RemoteError{Code: code, Message: msg})
}
