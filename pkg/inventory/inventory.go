// Package inventory stores twist files in a blob bucket.
//
// Layout:
//
//	<hex>.toda          owned twists, named by their focus hash
//	archive/<hex>.toda  twists superseded by a newer owned twist
//	unowned/<hex>.toda  twists whose requirements can no longer be satisfied locally
//	index.json          cached listing, dropped on every write
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/twine/pkg/object"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

const (
	archiveDir = "archive/"
	unownedDir = "unowned/"
	indexKey   = "index.json"
	extension  = ".toda"
)

// Location says which part of the inventory holds a twist.
type Location string

const (
	Owned    Location = "owned"
	Archived Location = "archive"
	Unowned  Location = "unowned"
)

func (l Location) prefix() string {
	switch l {
	case Archived:
		return archiveDir
	case Unowned:
		return unownedDir
	default:
		return ""
	}
}

// Index is the cached listing stored in index.json.
type Index struct {
	Owned    []string  `json:"owned"`
	Archived []string  `json:"archived"`
	Unowned  []string  `json:"unowned"`
	Newest   time.Time `json:"newest"`
	Count    int       `json:"count"`
}

// Inventory is safe for concurrent use.
type Inventory struct {
	bucket *blob.Bucket
	reg    *object.Registry
	mu     sync.Mutex
}

// Open opens the bucket at a gocloud URL such as file:///var/lib/twine or
// mem://.
func Open(ctx context.Context, url string, reg *object.Registry) (*Inventory, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open inventory %q: %w", url, err)
	}
	return New(b, reg), nil
}

// OpenDir opens a directory-backed inventory, creating the directory.
func OpenDir(dir string, reg *object.Registry) (*Inventory, error) {
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("open inventory dir %q: %w", dir, err)
	}
	return New(b, reg), nil
}

// New wraps an already opened bucket.
func New(b *blob.Bucket, reg *object.Registry) *Inventory {
	if reg == nil {
		reg = object.NewRegistry()
	}
	return &Inventory{bucket: b, reg: reg}
}

// Close closes the underlying bucket.
func (inv *Inventory) Close() error {
	return inv.bucket.Close()
}

func key(loc Location, h object.Hash) string {
	return loc.prefix() + object.FileName(h)
}

// Put stores atoms as an owned twist named by their focus.
func (inv *Inventory) Put(ctx context.Context, atoms *object.Atoms) (object.Hash, error) {
	h := atoms.Focus()
	if h.IsNull() {
		return "", fmt.Errorf("inventory put: atoms have no focus")
	}
	opts := &blob.WriterOptions{ContentType: "application/octet-stream"}
	if err := inv.bucket.WriteAll(ctx, key(Owned, h), atoms.Bytes(), opts); err != nil {
		return "", fmt.Errorf("inventory put %s: %w", h.Hex(), err)
	}
	return h, inv.invalidate(ctx)
}

// Get reads the twist file for h, looking in owned, archive and unowned in
// that order.
func (inv *Inventory) Get(ctx context.Context, h object.Hash) (*object.Atoms, Location, error) {
	for _, loc := range []Location{Owned, Archived, Unowned} {
		data, err := inv.bucket.ReadAll(ctx, key(loc, h))
		if gcerrors.Code(err) == gcerrors.NotFound {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("inventory get %s: %w", h.Hex(), err)
		}
		atoms, err := inv.reg.DecodeAtoms(data)
		if err != nil {
			return nil, "", fmt.Errorf("inventory get %s: %w", h.Hex(), err)
		}
		return atoms, loc, nil
	}
	return nil, "", object.MissingError(object.MissingHashPacket, h, "twist file not in inventory")
}

// Archive moves an owned twist to the archive.
func (inv *Inventory) Archive(ctx context.Context, h object.Hash) error {
	return inv.move(ctx, h, Archived)
}

// Disown moves an owned twist to the unowned area.
func (inv *Inventory) Disown(ctx context.Context, h object.Hash) error {
	return inv.move(ctx, h, Unowned)
}

func (inv *Inventory) move(ctx context.Context, h object.Hash, to Location) error {
	src := key(Owned, h)
	if err := inv.bucket.Copy(ctx, key(to, h), src, nil); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return object.MissingError(object.MissingHashPacket, h, "no owned twist to move")
		}
		return fmt.Errorf("inventory move %s to %s: %w", h.Hex(), to, err)
	}
	if err := inv.bucket.Delete(ctx, src); err != nil {
		return fmt.Errorf("inventory move %s: delete owned copy: %w", h.Hex(), err)
	}
	return inv.invalidate(ctx)
}

// invalidate drops index.json so the next List rescans the bucket.
func (inv *Inventory) invalidate(ctx context.Context) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	err := inv.bucket.Delete(ctx, indexKey)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("invalidate inventory index: %w", err)
	}
	return nil
}

// List returns the hashes stored at loc, from index.json when present.
func (inv *Inventory) List(ctx context.Context, loc Location) ([]object.Hash, error) {
	idx, err := inv.index(ctx)
	if err != nil {
		return nil, err
	}
	var hexes []string
	switch loc {
	case Archived:
		hexes = idx.Archived
	case Unowned:
		hexes = idx.Unowned
	default:
		hexes = idx.Owned
	}
	out := make([]object.Hash, 0, len(hexes))
	for _, s := range hexes {
		h, err := inv.reg.ParseHex(s)
		if err != nil {
			return nil, fmt.Errorf("inventory index: %w", err)
		}
		out = append(out, h)
	}
	return out, nil
}

// index returns the cached listing. index.json is trusted until Put or a
// move invalidates it; files copied into the bucket behind the inventory's
// back need RebuildIndex.
func (inv *Inventory) index(ctx context.Context) (*Index, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	data, err := inv.bucket.ReadAll(ctx, indexKey)
	switch {
	case err == nil:
		var idx Index
		if jerr := json.Unmarshal(data, &idx); jerr == nil {
			return &idx, nil
		}
	case gcerrors.Code(err) != gcerrors.NotFound:
		return nil, fmt.Errorf("read inventory index: %w", err)
	}
	return inv.rebuildLocked(ctx)
}

// RebuildIndex rescans the bucket and rewrites index.json.
func (inv *Inventory) RebuildIndex(ctx context.Context) (*Index, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.rebuildLocked(ctx)
}

func (inv *Inventory) rebuildLocked(ctx context.Context) (*Index, error) {
	idx := &Index{Owned: []string{}, Archived: []string{}, Unowned: []string{}}
	err := inv.walk(ctx, func(loc Location, name string, mod time.Time) {
		switch loc {
		case Archived:
			idx.Archived = append(idx.Archived, name)
		case Unowned:
			idx.Unowned = append(idx.Unowned, name)
		default:
			idx.Owned = append(idx.Owned, name)
		}
		idx.Count++
		if mod.After(idx.Newest) {
			idx.Newest = mod
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(idx.Owned)
	sort.Strings(idx.Archived)
	sort.Strings(idx.Unowned)

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := inv.bucket.WriteAll(ctx, indexKey, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return nil, fmt.Errorf("write inventory index: %w", err)
	}
	return idx, nil
}

// walk calls fn with the location and hex name of every twist file.
func (inv *Inventory) walk(ctx context.Context, fn func(loc Location, name string, mod time.Time)) error {
	it := inv.bucket.List(nil)
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list inventory: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, extension) {
			continue
		}
		name := strings.TrimSuffix(obj.Key, extension)
		loc := Owned
		switch {
		case strings.HasPrefix(name, archiveDir):
			loc, name = Archived, strings.TrimPrefix(name, archiveDir)
		case strings.HasPrefix(name, unownedDir):
			loc, name = Unowned, strings.TrimPrefix(name, unownedDir)
		}
		if strings.Contains(name, "/") {
			continue
		}
		fn(loc, name, obj.ModTime)
	}
}
