package relay

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/odvcencio/twine/pkg/object"
)

// acceptsZstd reports whether an Accept-Encoding header lists zstd with a
// non-zero quality.
func acceptsZstd(acceptEncoding string) bool {
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "zstd") {
			continue
		}
		q, ok := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !ok {
			return true
		}
		v, err := strconv.ParseFloat(q, 64)
		return err == nil && v > 0
	}
	return false
}

// writeAtoms streams a twist file to w, zstd-compressed when the client
// accepts it. Knots are mostly digests, so the fastest level is enough.
func writeAtoms(w http.ResponseWriter, a *object.Atoms, acceptEncoding string) error {
	w.Header().Set("Content-Type", contentTypeTwist)
	w.Header().Add("Vary", "Accept-Encoding")
	if !acceptsZstd(acceptEncoding) {
		_, err := a.WriteTo(w)
		return err
	}
	w.Header().Set("Content-Encoding", "zstd")
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	if _, err := a.WriteTo(enc); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// readAtoms decodes a twist file body, undoing zstd when contentEncoding
// says so. Every digest is verified against reg.
func readAtoms(reg *object.Registry, body io.Reader, contentEncoding string) (*object.Atoms, error) {
	if !strings.EqualFold(strings.TrimSpace(contentEncoding), "zstd") {
		return reg.ReadAtoms(body)
	}
	dec, err := zstd.NewReader(body, zstd.WithDecoderMaxMemory(responseLimitTwist))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return reg.ReadAtoms(dec)
}
