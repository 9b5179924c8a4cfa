package relay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/twine/pkg/inventory"
	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/reqsat"
	"github.com/odvcencio/twine/pkg/twist"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
)

const (
	requestLimitHoist = 1 << 20 // 1MB
	shieldSize        = 32
)

// ServerOptions configures a relay server. Every field is optional.
type ServerOptions struct {
	Registry  *object.Registry
	Algorithm object.Algorithm
	// Signer authorizes each relay twist; nil leaves relay twists unsigned.
	Signer reqsat.Signer
	// Inventory persists the relay line after every append.
	Inventory *inventory.Inventory
	// Events receives one message per appended twist.
	Events *pubsub.Topic
	Logger *slog.Logger
}

// Server maintains one relay line and serves it over HTTP.
type Server struct {
	opts ServerOptions
	mux  *http.ServeMux

	mu   sync.RWMutex
	line *twist.Line
	tip  *twist.Twist
}

// NewServer starts a relay. With tip nil a new genesis twist is created;
// otherwise the relay resumes from the atoms, whose focus is the current tip.
func NewServer(ctx context.Context, tip *object.Atoms, opts ServerOptions) (*Server, error) {
	if opts.Registry == nil {
		opts.Registry = object.NewRegistry()
	}
	if opts.Algorithm == nil {
		opts.Algorithm = object.SHA256
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{opts: opts, line: twist.NewLine()}

	if tip == nil {
		b := twist.NewBuilder(opts.Algorithm)
		if _, err := s.commit(ctx, b, 0); err != nil {
			return nil, fmt.Errorf("relay genesis: %w", err)
		}
	} else {
		if err := s.line.Add(tip); err != nil {
			return nil, fmt.Errorf("relay resume: %w", err)
		}
		t, err := s.line.Focus()
		if err != nil {
			return nil, fmt.Errorf("relay resume: %w", err)
		}
		s.tip = t
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /{name}", s.instrument("get", s.handleGet))
	s.mux.HandleFunc("POST /hoist", s.instrument("hoist", s.handleHoist))
	return s, nil
}

// Tip returns the newest relay twist.
func (s *Server) Tip() *twist.Twist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip
}

// Append records rigging in a new relay twist. A non-nil tether makes the new
// twist fast, anchoring this relay into another one.
func (s *Server) Append(ctx context.Context, rigging map[object.Hash]object.Hash, tether *twist.Twist) (*twist.Twist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.tip.CreateSuccessor().SetAlgorithm(s.opts.Algorithm).SetRigging(rigging)
	if tether != nil {
		b.SetTether(tether.Hash()).AddAtoms(tether.Atoms())
	}
	return s.commit(ctx, b, len(rigging))
}

// commit freezes b as the new tip. The caller holds s.mu.
func (s *Server) commit(ctx context.Context, b *twist.Builder, rigs int) (*twist.Twist, error) {
	shield := make([]byte, shieldSize)
	if _, err := rand.Read(shield); err != nil {
		return nil, err
	}
	b.SetShield(shield)
	if s.opts.Signer != nil {
		reqsat.Require(b, s.opts.Signer)
		if s.tip != nil {
			if err := reqsat.Satisfy(b, s.opts.Signer); err != nil {
				return nil, err
			}
		}
	}
	t, err := b.Twist()
	if err != nil {
		return nil, err
	}
	if err := s.line.Add(t.Atoms()); err != nil {
		return nil, err
	}
	prev := s.tip
	s.tip = t
	measureAppend(ctx, rigs)

	if inv := s.opts.Inventory; inv != nil {
		if _, err := inv.Put(ctx, t.Atoms()); err != nil {
			return nil, err
		}
		if prev != nil {
			if err := inv.Archive(ctx, prev.Hash()); err != nil && !object.IsMissing(err, object.MissingHashPacket) {
				return nil, err
			}
		}
	}
	if topic := s.opts.Events; topic != nil {
		msg := &pubsub.Message{
			Body: []byte(t.Hash().Hex()),
			Metadata: map[string]string{
				"event": "append",
				"prev":  t.PrevHash().Hex(),
				"rigs":  fmt.Sprint(rigs),
			},
		}
		if err := topic.Send(ctx, msg); err != nil {
			s.opts.Logger.Warn("publish relay event failed", slog.Any("error", err))
		}
	}
	s.opts.Logger.Info("relay twist appended", slog.String("twist", t.Hash().Hex()), slog.Int("rigs", rigs))
	return t, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(endpoint string, h func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "relay."+endpoint, trace.WithAttributes(
			attribute.String("http.path", r.URL.Path),
		))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		rec.Header().Set(headerProtocol, ProtocolVersion)
		rec.Header().Set(headerCapabilities, ClientCapabilities)
		start := time.Now()
		err := h(rec, r.WithContext(ctx))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			s.opts.Logger.Error("relay request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
			writeRemoteError(rec, http.StatusInternalServerError, "internal", err.Error())
		}
		measureRequest(ctx, endpoint, rec.status, time.Since(start))
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	name := r.PathValue("name")
	switch {
	case strings.HasSuffix(name, suffixNext):
		return s.serveNext(w, r, strings.TrimSuffix(name, suffixNext))
	case strings.HasSuffix(name, suffixTwist):
		return s.serveTwist(w, r, strings.TrimSuffix(name, suffixTwist))
	case strings.HasSuffix(name, suffixShield):
		return s.serveShield(w, strings.TrimSuffix(name, suffixShield))
	default:
		writeRemoteError(w, http.StatusNotFound, "not_found", "unknown resource")
		return nil
	}
}

func (s *Server) parseHash(w http.ResponseWriter, hexHash string) (object.Hash, bool) {
	h, err := s.opts.Registry.ParseHex(hexHash)
	if err != nil {
		writeRemoteError(w, http.StatusBadRequest, "bad_hash", err.Error())
		return "", false
	}
	return h, true
}

func (s *Server) serveNext(w http.ResponseWriter, r *http.Request, hexHash string) error {
	h, ok := s.parseHash(w, hexHash)
	if !ok {
		return nil
	}
	s.mu.RLock()
	next, found := s.line.Successor(h)
	s.mu.RUnlock()
	if !found {
		writeRemoteError(w, http.StatusNotFound, "no_successor", "no twist follows "+hexHash)
		return nil
	}
	return s.writeKnot(w, r, next)
}

func (s *Server) serveTwist(w http.ResponseWriter, r *http.Request, hexHash string) error {
	h, ok := s.parseHash(w, hexHash)
	if !ok {
		return nil
	}
	return s.writeKnot(w, r, h)
}

func (s *Server) writeKnot(w http.ResponseWriter, r *http.Request, h object.Hash) error {
	s.mu.RLock()
	t, err := s.line.Twist(h)
	s.mu.RUnlock()
	if object.IsKind(err, object.KindMissing) {
		writeRemoteError(w, http.StatusNotFound, "unknown_twist", "twist "+h.Hex()+" is not on this relay")
		return nil
	}
	if err != nil {
		return err
	}
	return writeAtoms(w, t.Knot(false), r.Header.Get("Accept-Encoding"))
}

func (s *Server) serveShield(w http.ResponseWriter, hexHash string) error {
	h, ok := s.parseHash(w, hexHash)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.line.IsAncestor(h, s.tip.Hash()) {
		writeRemoteError(w, http.StatusNotFound, "unknown_twist", "twist "+hexHash+" is not on this relay")
		return nil
	}
	t, err := s.line.Twist(h)
	if err != nil {
		return err
	}
	latest, err := s.line.LastFast(s.tip.Hash())
	if err != nil {
		return err
	}
	if latest != nil && latest.Hash() == h {
		writeRemoteError(w, http.StatusForbidden, "shield_withheld", "shield of the latest fast twist is not disclosed")
		return nil
	}
	shield, err := t.Shield()
	if err != nil {
		return err
	}
	if shield == nil {
		writeRemoteError(w, http.StatusNotFound, "no_shield", "twist has no shield")
		return nil
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, err = w.Write(shield)
	return err
}

func (s *Server) handleHoist(w http.ResponseWriter, r *http.Request) error {
	var req HoistRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimitHoist))
	if err := dec.Decode(&req); err != nil {
		writeRemoteError(w, http.StatusBadRequest, "bad_request", "decode hoist request: "+err.Error())
		return nil
	}
	relayTwist, rig, err := req.Decode(s.opts.Registry)
	if err != nil {
		writeRemoteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil
	}
	s.mu.RLock()
	known := s.line.Has(relayTwist)
	s.mu.RUnlock()
	if !known {
		writeRemoteError(w, http.StatusNotFound, "unknown_twist", "relay twist "+req.RelayTwist+" is not on this relay")
		return nil
	}
	if _, err := s.Append(r.Context(), rig, nil); err != nil {
		if errors.Is(err, object.ErrConflictingSuccessor) {
			writeRemoteError(w, http.StatusConflict, "conflict", err.Error())
			return nil
		}
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
