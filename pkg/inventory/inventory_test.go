package inventory

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/odvcencio/twine/pkg/object"
	"github.com/odvcencio/twine/pkg/twist"
	"gocloud.dev/blob/memblob"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	inv := New(memblob.OpenBucket(nil), object.NewRegistry())
	t.Cleanup(func() { _ = inv.Close() })
	return inv
}

func twists(t *testing.T, n int) []*twist.Twist {
	t.Helper()
	tw, err := twist.NewBuilder(nil).SetNote("inventory").Twist()
	if err != nil {
		t.Fatal(err)
	}
	out := []*twist.Twist{tw}
	for len(out) < n {
		next, err := out[len(out)-1].CreateSuccessor().Twist()
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, next)
	}
	return out
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	inv := newTestInventory(t)
	tw := twists(t, 2)[1]

	h, err := inv.Put(ctx, tw.Atoms())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if h != tw.Hash() {
		t.Fatalf("Put hash = %s, want %s", h, tw.Hash())
	}
	atoms, loc, err := inv.Get(ctx, h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loc != Owned {
		t.Fatalf("location = %s, want %s", loc, Owned)
	}
	if diff := cmp.Diff(tw.Atoms().Hashes(), atoms.Hashes()); diff != "" {
		t.Fatalf("atoms mismatch (-want +got):\n%s", diff)
	}
	if atoms.Focus() != h {
		t.Fatalf("focus = %s, want %s", atoms.Focus(), h)
	}
}

func TestGetMissing(t *testing.T) {
	inv := newTestInventory(t)
	_, _, err := inv.Get(context.Background(), object.SHA256.Sum([]byte("absent")))
	if !object.IsMissing(err, object.MissingHashPacket) {
		t.Fatalf("err = %v, want missing hash packet", err)
	}
}

func TestPutRequiresFocus(t *testing.T) {
	inv := newTestInventory(t)
	a := object.NewAtoms()
	a.Put(object.SHA256, object.Arbitrary("loose packet"))
	if _, err := inv.Put(context.Background(), a); err == nil {
		t.Fatal("Put without focus succeeded")
	}
}

func TestArchiveDisownAndIndex(t *testing.T) {
	ctx := context.Background()
	inv := newTestInventory(t)
	tws := twists(t, 3)
	for _, tw := range tws {
		if _, err := inv.Put(ctx, tw.Knot(true)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	owned, err := inv.List(ctx, Owned)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(owned) != 3 {
		t.Fatalf("owned = %d, want 3", len(owned))
	}

	if err := inv.Archive(ctx, tws[0].Hash()); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := inv.Disown(ctx, tws[1].Hash()); err != nil {
		t.Fatalf("Disown: %v", err)
	}

	checks := []struct {
		loc  Location
		want []object.Hash
	}{
		{Owned, []object.Hash{tws[2].Hash()}},
		{Archived, []object.Hash{tws[0].Hash()}},
		{Unowned, []object.Hash{tws[1].Hash()}},
	}
	for _, c := range checks {
		got, err := inv.List(ctx, c.loc)
		if err != nil {
			t.Fatalf("List(%s): %v", c.loc, err)
		}
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Fatalf("List(%s) mismatch (-want +got):\n%s", c.loc, diff)
		}
	}

	_, loc, err := inv.Get(ctx, tws[0].Hash())
	if err != nil || loc != Archived {
		t.Fatalf("Get archived = %s, %v", loc, err)
	}
	if err := inv.Archive(ctx, tws[0].Hash()); !object.IsMissing(err, object.MissingHashPacket) {
		t.Fatalf("second Archive err = %v, want missing", err)
	}
}

func TestRebuildIndexCounts(t *testing.T) {
	ctx := context.Background()
	inv := newTestInventory(t)
	for _, tw := range twists(t, 2) {
		if _, err := inv.Put(ctx, tw.Knot(true)); err != nil {
			t.Fatal(err)
		}
	}
	idx, err := inv.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if idx.Count != 2 || len(idx.Owned) != 2 {
		t.Fatalf("index = %+v, want 2 owned", idx)
	}
}

func TestPutDropsStaleIndex(t *testing.T) {
	ctx := context.Background()
	inv := newTestInventory(t)
	tws := twists(t, 2)
	if _, err := inv.Put(ctx, tws[0].Knot(true)); err != nil {
		t.Fatal(err)
	}
	if _, err := inv.List(ctx, Owned); err != nil {
		t.Fatal(err)
	}
	if ok, err := inv.bucket.Exists(ctx, indexKey); err != nil || !ok {
		t.Fatalf("index.json after List: exists=%v err=%v", ok, err)
	}

	if _, err := inv.Put(ctx, tws[1].Knot(true)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := inv.bucket.Exists(ctx, indexKey); ok {
		t.Fatal("index.json survived Put")
	}
	owned, err := inv.List(ctx, Owned)
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 2 {
		t.Fatalf("owned = %d, want 2", len(owned))
	}
}

func TestListTrustsIndexUntilRebuild(t *testing.T) {
	ctx := context.Background()
	inv := newTestInventory(t)
	tws := twists(t, 2)
	if _, err := inv.Put(ctx, tws[0].Knot(true)); err != nil {
		t.Fatal(err)
	}
	if _, err := inv.List(ctx, Owned); err != nil {
		t.Fatal(err)
	}

	// A file written straight into the bucket is invisible to the cache.
	if err := inv.bucket.WriteAll(ctx, key(Owned, tws[1].Hash()), tws[1].Knot(true).Bytes(), nil); err != nil {
		t.Fatal(err)
	}
	owned, err := inv.List(ctx, Owned)
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 1 {
		t.Fatalf("cached owned = %d, want 1", len(owned))
	}

	if _, err := inv.RebuildIndex(ctx); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	owned, err = inv.List(ctx, Owned)
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 2 {
		t.Fatalf("rebuilt owned = %d, want 2", len(owned))
	}
}
