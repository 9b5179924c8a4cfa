package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/twine/pkg/interp"
	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/twist"
)

// ClientOptions configures the relay client.
type ClientOptions struct {
	Timeout      time.Duration // HTTP client timeout (default 60s)
	MaxAttempts  int           // retry attempts (default 3)
	PollAttempts int           // HoistAndWait polls (default 10)
	PollDelay    time.Duration // delay between polls (default 2s)
	Registry     *object.Registry
	// Topline bounds backward fetches; Null fetches back to genesis.
	Topline object.Hash
}

// Response limits per endpoint type.
const (
	responseLimitDefault = 2 << 20  // 2MB
	responseLimitTwist   = 32 << 20 // 32MB
	responseLimitShield  = 64 << 10 // 64KB
)

// Client talks to one relay.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	token        string
	reg          *object.Registry
	maxAttempts  int
	pollAttempts int
	pollDelay    time.Duration
	topline      object.Hash
}

// NewClient creates a relay client with default options.
//
// TWINE_RELAY_TOKEN, when set, is sent as a Bearer token.
func NewClient(baseURL string) (*Client, error) {
	return NewClientWithOptions(baseURL, ClientOptions{})
}

// NewClientWithOptions creates a relay client with configurable options.
// Zero-value or negative fields in opts receive defaults.
func NewClientWithOptions(baseURL string, opts ClientOptions) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("relay URL must include scheme and host")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 10
	}
	if opts.PollDelay <= 0 {
		opts.PollDelay = 2 * time.Second
	}
	if opts.Registry == nil {
		opts.Registry = object.NewRegistry()
	}
	if opts.Topline == "" {
		opts.Topline = object.Null
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: opts.Timeout},
		token:        strings.TrimSpace(os.Getenv("TWINE_RELAY_TOKEN")),
		reg:          opts.Registry,
		maxAttempts:  opts.MaxAttempts,
		pollAttempts: opts.PollAttempts,
		pollDelay:    opts.PollDelay,
		topline:      opts.Topline,
	}, nil
}

// BaseURL returns the normalized relay URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Next fetches the twist whose prev is h. It reports false when the relay
// knows no successor yet.
func (c *Client) Next(ctx context.Context, h object.Hash) (*object.Atoms, bool, error) {
	atoms, status, err := c.getAtoms(ctx, h.Hex()+suffixNext)
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return atoms, true, nil
}

// Twist fetches twist h from the relay.
func (c *Client) Twist(ctx context.Context, h object.Hash) (*object.Atoms, error) {
	atoms, status, err := c.getAtoms(ctx, h.Hex()+suffixTwist)
	if status == http.StatusNotFound {
		return nil, object.MissingError(object.MissingHashPacket, h, "relay "+c.baseURL+" does not have it")
	}
	if err != nil {
		return nil, err
	}
	if atoms.Focus() != h {
		return nil, object.DecodeErrorf("relay returned twist %s for %s", atoms.Focus().Hex(), h.Hex())
	}
	return atoms, nil
}

// Shield fetches the disclosed shield of relay twist h.
func (c *Client) Shield(ctx context.Context, h object.Hash) ([]byte, error) {
	_, body, _, err := c.do(ctx, http.MethodGet, "/"+h.Hex()+suffixShield, nil, nil, http.StatusOK, responseLimitShield)
	return body, err
}

// FetchShield adds the disclosed shield of relay twist t to line. It reports
// false when t has no shield or the relay still withholds it.
func (c *Client) FetchShield(ctx context.Context, line *twist.Line, t *twist.Twist) (bool, error) {
	if t.ShieldHash().IsNull() {
		return false, nil
	}
	if line.Atoms().Has(t.ShieldHash()) {
		return true, nil
	}
	s, err := c.Shield(ctx, t.Hash())
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.Status == http.StatusForbidden {
			return false, nil
		}
		return false, err
	}
	a := object.NewAtoms()
	if h := a.Put(t.Algorithm(), object.Arbitrary(s)); h != t.ShieldHash() {
		return false, object.DecodeErrorf("relay shield for %s hashes to %s, want %s", t.Hash().Hex(), h.Hex(), t.ShieldHash().Hex())
	}
	return true, line.Add(a)
}

func (c *Client) getAtoms(ctx context.Context, name string) (*object.Atoms, int, error) {
	header := http.Header{}
	header.Set("Accept", contentTypeTwist)
	header.Set("Accept-Encoding", "zstd")

	status, body, respHeader, err := c.do(ctx, http.MethodGet, "/"+name, nil, header, http.StatusOK, responseLimitTwist)
	if err != nil {
		return nil, status, err
	}
	if ct := respHeader.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, contentTypeTwist) {
		return nil, status, fmt.Errorf("unexpected content type %q (expected %s) from GET %s", ct, contentTypeTwist, name)
	}
	atoms, err := readAtoms(c.reg, bytes.NewReader(body), respHeader.Get("Content-Encoding"))
	if err != nil {
		return nil, status, fmt.Errorf("decode %s: %w", name, err)
	}
	return atoms, status, nil
}

// Submit asks the relay to append a twist carrying rigging after relayTwist.
func (c *Client) Submit(ctx context.Context, relayTwist object.Hash, rigging map[object.Hash]object.Hash) error {
	payload, err := json.Marshal(NewHoistRequest(relayTwist, rigging))
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	status, _, _, err := c.do(ctx, http.MethodPost, "/hoist", payload, header, http.StatusNoContent, responseLimitDefault)
	if err != nil && status == http.StatusOK {
		// Relays may also acknowledge with 200.
		return nil
	}
	return err
}

// Hoist submits the blinded commitment for lead.
func (c *Client) Hoist(ctx context.Context, relayTwist object.Hash, lead *twist.Twist) error {
	k, v, err := twist.HoistRig(lead)
	if err != nil {
		return err
	}
	return c.Submit(ctx, relayTwist, map[object.Hash]object.Hash{k: v})
}

// Post submits the clear back-reference from lead to its hoist.
func (c *Client) Post(ctx context.Context, relayTwist object.Hash, lead, hoist object.Hash) error {
	k, v := twist.PostRig(lead, hoist)
	return c.Submit(ctx, relayTwist, map[object.Hash]object.Hash{k: v})
}

// FetchForward follows the relay forward from `from`, merging every new twist
// into line. It returns the newest twist reached and how many were fetched.
func (c *Client) FetchForward(ctx context.Context, line *twist.Line, from object.Hash) (object.Hash, int, error) {
	cur := from
	n := 0
	for {
		if next, ok := line.Successor(cur); ok {
			cur = next
			continue
		}
		atoms, ok, err := c.Next(ctx, cur)
		if err != nil {
			return cur, n, err
		}
		if !ok {
			return cur, n, nil
		}
		if err := line.Add(atoms); err != nil {
			return cur, n, err
		}
		next, ok := line.Successor(cur)
		if !ok {
			return cur, n, object.DecodeErrorf("relay returned %s, which does not follow %s", atoms.Focus().Hex(), cur.Hex())
		}
		cur = next
		n++
	}
}

// FetchBack walks the relay line back from `from`, fetching every twist
// line lacks, until it reaches the client's topline or genesis. It returns
// how many twists were fetched.
func (c *Client) FetchBack(ctx context.Context, line *twist.Line, from object.Hash) (int, error) {
	n := 0
	cur := from
	seen := make(map[object.Hash]struct{})
	for !cur.IsNull() {
		if _, loop := seen[cur]; loop {
			return n, object.StructureError(object.ErrConflictingSuccessor, cur, "cycle in relay line")
		}
		seen[cur] = struct{}{}
		if !line.Has(cur) {
			atoms, err := c.Twist(ctx, cur)
			if err != nil {
				return n, err
			}
			if err := line.Add(atoms); err != nil {
				return n, err
			}
			n++
		}
		if cur == c.topline {
			break
		}
		t, err := line.Twist(cur)
		if err != nil {
			return n, err
		}
		cur = t.PrevHash()
	}
	return n, nil
}

// Hitch makes sure line holds lead, the relay line from the topline through
// lead's tether, and everything the relay knows after it. The relay line
// after the previous fast twist's tether is fetched too, so that twist's
// hoist and post can be found. It returns the newest relay twist.
func (c *Client) Hitch(ctx context.Context, line *twist.Line, lead *twist.Twist) (object.Hash, error) {
	if !lead.IsTethered() {
		return "", object.StructureError(object.ErrLoose, lead.Hash(), "cannot hitch")
	}
	if err := line.Add(lead.Atoms()); err != nil {
		return "", err
	}
	tether := lead.TetherHash()
	if _, err := c.FetchBack(ctx, line, tether); err != nil {
		return "", err
	}
	if prev, err := line.LastFastBefore(lead.Hash()); err == nil && prev != nil && line.IsAncestor(prev.TetherHash(), tether) {
		if _, _, err := c.FetchForward(ctx, line, prev.TetherHash()); err != nil {
			return "", err
		}
	}
	last, _, err := c.FetchForward(ctx, line, tether)
	return last, err
}

// pendingPost returns the post rig confirming the hoist of the fast twist
// before lead, when that hoist sits on this relay line before last and has
// not been posted yet.
func pendingPost(line *twist.Line, lead *twist.Twist, last object.Hash) (map[object.Hash]object.Hash, error) {
	prev, err := line.LastFastBefore(lead.Hash())
	if object.IsKind(err, object.KindMissing) {
		return nil, nil
	}
	if err != nil || prev == nil {
		return nil, err
	}
	in := interp.New(line, object.Null, nil)
	hoist, err := in.Hoist(prev)
	if err != nil {
		if object.IsKind(err, object.KindMissing) || errors.Is(err, object.ErrNoShield) {
			return nil, nil
		}
		return nil, err
	}
	if !line.IsAncestor(hoist.Hash(), last) {
		return nil, nil
	}
	if _, err := in.Post(prev, hoist); !object.IsMissing(err, object.MissingPostEntry) {
		return nil, err
	}
	k, v := twist.PostRig(prev.Hash(), hoist.Hash())
	return map[object.Hash]object.Hash{k: v}, nil
}

// fetchRelayLead adds the disclosed shield of the relay's own fast twist
// before hoist, which verifying a climb above this relay needs.
func (c *Client) fetchRelayLead(ctx context.Context, line *twist.Line, hoist *twist.Twist) error {
	up, err := line.LastFast(hoist.Hash())
	if object.IsKind(err, object.KindMissing) {
		return nil
	}
	if err != nil || up == nil {
		return err
	}
	_, err = c.FetchShield(ctx, line, up)
	return err
}

// HoistAndWait submits lead's hoist and polls the relay until the hoist shows
// up on its line. When the previous fast twist's hoist has not been posted,
// its post rides in the same request. It returns the hoist twist, or
// ErrCouldNotHoist once the poll budget is spent.
func (c *Client) HoistAndWait(ctx context.Context, line *twist.Line, lead *twist.Twist) (*twist.Twist, error) {
	last, err := c.Hitch(ctx, line, lead)
	if err != nil {
		return nil, err
	}
	post, err := pendingPost(line, lead, last)
	if err != nil {
		return nil, err
	}
	in := interp.New(line, object.Null, nil)
	hoist, err := in.Hoist(lead)
	switch {
	case err == nil:
		if post != nil {
			if err := c.Submit(ctx, last, post); err != nil {
				return nil, err
			}
		}
		return hoist, c.fetchRelayLead(ctx, line, hoist)
	case !object.IsMissing(err, object.MissingHoist):
		return nil, err
	}

	k, v, err := twist.HoistRig(lead)
	if err != nil {
		return nil, err
	}
	rig := map[object.Hash]object.Hash{k: v}
	maps.Copy(rig, post)
	if err := c.Submit(ctx, last, rig); err != nil {
		return nil, err
	}

	p := fixedPacer(c.pollDelay)
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		if _, _, err := c.FetchForward(ctx, line, last); err != nil {
			return nil, err
		}
		hoist, err := in.Hoist(lead)
		if err == nil {
			return hoist, c.fetchRelayLead(ctx, line, hoist)
		}
		if !object.IsMissing(err, object.MissingHoist) {
			return nil, err
		}
		if err := p.wait(ctx); err != nil {
			return nil, err
		}
	}
	return nil, object.Errorf(object.KindNetwork, object.ErrCouldNotHoist,
		"relay %s did not record hoist for %s after %d polls", c.baseURL, lead.Hash().Hex(), c.pollAttempts)
}

// do sends a request through send and returns the status and the body of a
// response matching expectedStatus.
func (c *Client) do(ctx context.Context, method, path string, body []byte, header http.Header, expectedStatus int, maxBytes int64) (int, []byte, http.Header, error) {
	resp, err := c.send(ctx, method, path, body, header)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if readErr != nil {
		return resp.StatusCode, nil, nil, object.Errorf(object.KindNetwork, readErr, "read %s", path)
	}
	if resp.StatusCode != expectedStatus {
		if re := tryParseRemoteError(resp.StatusCode, data); re != nil {
			return resp.StatusCode, nil, nil, object.Errorf(object.KindNetwork, re, "%s %s", method, path)
		}
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, nil, nil, object.Errorf(object.KindNetwork, nil,
			"relay request failed (%s %s): %s", method, path, msg)
	}
	return resp.StatusCode, data, resp.Header, nil
}

func (c *Client) applyAuth(req *http.Request) {
	req.Header.Set(headerProtocol, ProtocolVersion)
	req.Header.Set(headerCapabilities, ClientCapabilities)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
