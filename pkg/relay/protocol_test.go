package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/odvcencio/twine/pkg/object"
)

func TestCapabilities(t *testing.T) {
	caps := ParseCapabilities(" zstd, , pack ")
	if !caps.Has("zstd") || !caps.Has("pack") {
		t.Fatalf("caps = %q, missing entries", caps.String())
	}
	if caps.Has("") {
		t.Fatal("empty capability recorded")
	}
	if got := caps.String(); got != "pack,zstd" {
		t.Fatalf("String() = %q, want %q", got, "pack,zstd")
	}
}

func TestHoistRequestJSON(t *testing.T) {
	relay := object.SHA256.Sum([]byte("relay"))
	k := object.SHA256.Sum([]byte("k"))
	v := object.SHA256.Sum([]byte("v"))
	rig := map[object.Hash]object.Hash{k: v}

	data, err := json.Marshal(NewHoistRequest(relay, rig))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["relay-twist"] != relay.Hex() {
		t.Fatalf("relay-twist = %v, want %s", raw["relay-twist"], relay.Hex())
	}
	if _, ok := raw["hoist-request"].(map[string]any); !ok {
		t.Fatalf("hoist-request = %T, want object", raw["hoist-request"])
	}

	var req HoistRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	gotRelay, gotRig, err := req.Decode(object.NewRegistry())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotRelay != relay {
		t.Fatalf("relay = %s, want %s", gotRelay, relay)
	}
	if diff := cmp.Diff(rig, gotRig); diff != "" {
		t.Fatalf("rigging mismatch (-want +got):\n%s", diff)
	}
}

func TestHoistRequestDecodeRejects(t *testing.T) {
	reg := object.NewRegistry()
	relay := object.SHA256.Sum([]byte("relay")).Hex()
	tests := []struct {
		name string
		req  HoistRequest
	}{
		{"bad relay", HoistRequest{RelayTwist: "zz", Rigging: map[string]string{relay: relay}}},
		{"empty rigging", HoistRequest{RelayTwist: relay}},
		{"bad key", HoistRequest{RelayTwist: relay, Rigging: map[string]string{"41ab": relay}}},
		{"bad value", HoistRequest{RelayTwist: relay, Rigging: map[string]string{relay: "nothex"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := tt.req.Decode(reg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTryParseRemoteError(t *testing.T) {
	re := tryParseRemoteError(http.StatusForbidden, []byte(`{"code":"shield_withheld","error":"no"}`))
	if re == nil {
		t.Fatal("expected RemoteError")
	}
	if re.Status != http.StatusForbidden || re.Code != "shield_withheld" {
		t.Fatalf("RemoteError = %+v", re)
	}
	var target *RemoteError
	if !errors.As(error(re), &target) {
		t.Fatal("errors.As failed")
	}
	if tryParseRemoteError(http.StatusBadGateway, []byte("<html>bad gateway</html>")) != nil {
		t.Fatal("parsed non-JSON body as RemoteError")
	}
}
