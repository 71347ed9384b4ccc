package cache

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (Store, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	return NewStoreWithFs(fsys, Options{SizeCacheTTL: time.Hour, Now: func() time.Time { return fixedNow }}), fsys
}

func readAll(t *testing.T, result *ReadResult) []byte {
	t.Helper()
	defer result.Reader.Close()
	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	return body
}

func TestStoreWriteAndRead(t *testing.T) {
	store, fsys := newTestStore(t)
	locator := Locator{Dir: "blog.example.com/hello-world", Filename: "index.html"}
	modTime := fixedNow.Add(-time.Hour)

	entry, err := store.Write(context.Background(), locator, []byte("<html>plain</html>"), PutOptions{ModTime: modTime})
	if err != nil {
		t.Fatalf("write error: %v", err)
	}
	if entry.Gzip {
		t.Fatalf("gzip sibling should not be written without a gzip body")
	}

	result, err := store.Read(context.Background(), locator, true)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if result.Entry.Gzip {
		t.Fatalf("plain variant expected when no .gz exists")
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
	if body := readAll(t, result); string(body) != "<html>plain</html>" {
		t.Fatalf("cached payload mismatch: %s", body)
	}

	marker, err := afero.Exists(fsys, "/blog.example.com/hello-world/index.php")
	if err != nil || !marker {
		t.Fatalf("expected index.php marker in the entry directory")
	}
}

func TestStoreReadPrefersGzip(t *testing.T) {
	store, _ := newTestStore(t)
	locator := Locator{Dir: "blog.example.com", Filename: "index.html"}
	if _, err := store.Write(context.Background(), locator, []byte("plain"), PutOptions{GzipBody: []byte("plain (gzip)"), GzipLevel: 6}); err != nil {
		t.Fatalf("write error: %v", err)
	}

	result, err := store.Read(context.Background(), locator, true)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !result.Entry.Gzip {
		t.Fatalf("gzip variant expected for gzip-accepting client")
	}
	defer result.Reader.Close()
	zr, err := gzip.NewReader(result.Reader)
	if err != nil {
		t.Fatalf("gzip reader error: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if string(body) != "plain (gzip)" {
		t.Fatalf("unexpected gzip payload: %s", body)
	}

	plain, err := store.Read(context.Background(), locator, false)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if plain.Entry.Gzip || string(readAll(t, plain)) != "plain" {
		t.Fatalf("plain variant expected when gzip is not accepted")
	}
}

func TestStoreReadMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Read(context.Background(), Locator{Dir: "blog.example.com/missing", Filename: "index.html"}, true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsUnsafeFilename(t *testing.T) {
	store, _ := newTestStore(t)
	for _, name := range []string{"", "..", "a/b", MarkerFile} {
		if _, err := store.Write(context.Background(), Locator{Dir: "blog.example.com", Filename: name}, []byte("x"), PutOptions{}); err == nil {
			t.Fatalf("expected error for filename %q", name)
		}
	}
}

func TestStoreDirTraversalStaysInsideRoot(t *testing.T) {
	store, fsys := newTestStore(t)
	locator := Locator{Dir: "../../etc", Filename: "index.html"}
	if _, err := store.Write(context.Background(), locator, []byte("x"), PutOptions{}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if ok, _ := afero.Exists(fsys, "/etc/index.html"); !ok {
		t.Fatalf("expected traversal to be clamped to the store root")
	}
}

func TestDeleteMissingIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	for i := 0; i < 2; i++ {
		if err := store.Delete(context.Background(), "blog.example.com/nothing-here", true); err != nil {
			t.Fatalf("delete #%d of missing path should succeed, got %v", i+1, err)
		}
	}
}

func TestDeleteNonRecursiveKeepsSubdirectories(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	parent := Locator{Dir: "blog.example.com/category/news", Filename: "index.html"}
	child := Locator{Dir: "blog.example.com/category/news/page/2", Filename: "index.html"}
	for _, loc := range []Locator{parent, child} {
		if _, err := store.Write(ctx, loc, []byte("body"), PutOptions{GzipBody: []byte("body")}); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}

	if err := store.Delete(ctx, parent.Dir, false); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := store.Read(ctx, parent, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("parent entry should be gone, got %v", err)
	}
	if _, err := store.Read(ctx, parent, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("parent plain entry should be gone, got %v", err)
	}
	result, err := store.Read(ctx, child, false)
	if err != nil {
		t.Fatalf("child entry should survive a non-recursive delete: %v", err)
	}
	result.Reader.Close()
}

func TestDeleteRecursiveRemovesTree(t *testing.T) {
	store, fsys := newTestStore(t)
	ctx := context.Background()
	for _, dir := range []string{"blog.example.com/post", "blog.example.com/post/2", "blog.example.com/post/comments"} {
		if _, err := store.Write(ctx, Locator{Dir: dir, Filename: "index.html"}, []byte("body"), PutOptions{}); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	if err := store.Delete(ctx, "blog.example.com/post", true); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if ok, _ := afero.DirExists(fsys, "/blog.example.com/post"); ok {
		t.Fatalf("expected directory tree to be removed")
	}
}

func TestDeleteReportsPartialFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	writable := NewStoreWithFs(base, Options{})
	ctx := context.Background()
	if _, err := writable.Write(ctx, Locator{Dir: "blog.example.com/locked", Filename: "index.html"}, []byte("body"), PutOptions{}); err != nil {
		t.Fatalf("write error: %v", err)
	}

	readOnly := NewStoreWithFs(afero.NewReadOnlyFs(base), Options{})
	err := readOnly.Delete(ctx, "blog.example.com/locked", true)
	if !errors.Is(err, ErrPartialDelete) {
		t.Fatalf("expected ErrPartialDelete, got %v", err)
	}
	if err := readOnly.Delete(ctx, "blog.example.com/absent", true); err != nil {
		t.Fatalf("missing path must still succeed on a read-only store: %v", err)
	}
}

func TestIsEmpty(t *testing.T) {
	store, fsys := newTestStore(t)
	ctx := context.Background()
	if store.IsEmpty("blog.example.com/none") {
		t.Fatalf("missing directory is not empty")
	}
	locator := Locator{Dir: "blog.example.com/comments", Filename: "index.html"}
	if _, err := store.Write(ctx, locator, []byte("body"), PutOptions{}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if store.IsEmpty(locator.Dir) {
		t.Fatalf("directory with an entry is not empty")
	}
	if err := fsys.Remove("/blog.example.com/comments/index.html"); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if !store.IsEmpty(locator.Dir) {
		t.Fatalf("directory holding only the marker should be empty")
	}
}

func TestSizeAndCountSkipsMarkersAndCaches(t *testing.T) {
	store, fsys := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Write(ctx, Locator{Dir: "blog.example.com", Filename: "index.html"}, []byte("12345"), PutOptions{}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := store.Write(ctx, Locator{Dir: "blog.example.com/about", Filename: "index.html"}, []byte("123"), PutOptions{}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := afero.WriteFile(fsys, "/blog.example.com/.htaccess", []byte("deny"), 0o644); err != nil {
		t.Fatalf("write htaccess error: %v", err)
	}

	usage, err := store.SizeAndCount(ctx, "blog.example.com")
	if err != nil {
		t.Fatalf("size error: %v", err)
	}
	if usage.Bytes != 8 || usage.Files != 2 {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	// A file written behind the store's back is hidden by the memoized value.
	if err := afero.WriteFile(fsys, "/blog.example.com/extra.html", []byte("xx"), 0o644); err != nil {
		t.Fatalf("write extra error: %v", err)
	}
	cached, _ := store.SizeAndCount(ctx, "blog.example.com")
	if cached.Files != 2 {
		t.Fatalf("expected memoized usage, got %+v", cached)
	}

	store.InvalidateUsage()
	fresh, _ := store.SizeAndCount(ctx, "blog.example.com")
	if fresh.Files != 3 || fresh.Bytes != 10 {
		t.Fatalf("expected recomputed usage after invalidation, got %+v", fresh)
	}
}

func TestPurgeExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	old := Locator{Dir: "blog.example.com/old", Filename: "index.html"}
	recent := Locator{Dir: "blog.example.com/recent", Filename: "index.html"}
	if _, err := store.Write(ctx, old, []byte("old"), PutOptions{ModTime: fixedNow.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := store.Write(ctx, recent, []byte("new"), PutOptions{ModTime: fixedNow.Add(-10 * time.Minute)}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	boundary := Locator{Dir: "blog.example.com/boundary", Filename: "index.html"}
	if _, err := store.Write(ctx, boundary, []byte("edge"), PutOptions{ModTime: fixedNow.Add(-time.Hour)}); err != nil {
		t.Fatalf("write error: %v", err)
	}

	removed, err := store.PurgeExpired(ctx, "blog.example.com", time.Hour)
	if err != nil {
		t.Fatalf("purge error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired file, got %d", removed)
	}
	if _, err := store.Read(ctx, old, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired entry should be removed")
	}
	if result, err := store.Read(ctx, recent, false); err != nil {
		t.Fatalf("fresh entry should remain: %v", err)
	} else {
		result.Reader.Close()
	}
	// An entry exactly TTL old is still fresh for the serve path, so it must survive.
	if result, err := store.Read(ctx, boundary, false); err != nil {
		t.Fatalf("entry aged exactly the ttl should remain: %v", err)
	} else {
		result.Reader.Close()
	}

	if n, _ := store.PurgeExpired(ctx, "blog.example.com", 0); n != 0 {
		t.Fatalf("zero max age must not purge anything")
	}
}

func TestFreshness(t *testing.T) {
	f := Freshness{TTL: time.Hour, Now: func() time.Time { return fixedNow }}
	if !f.Fresh(Entry{ModTime: fixedNow.Add(-59*time.Minute - 59*time.Second)}) {
		t.Fatalf("entry 3599s old should be fresh")
	}
	if !f.Expired(Entry{ModTime: fixedNow.Add(-time.Hour - time.Second)}) {
		t.Fatalf("entry 3601s old should be expired")
	}
	never := Freshness{Now: f.Now}
	if !never.Fresh(Entry{ModTime: fixedNow.AddDate(-1, 0, 0)}) {
		t.Fatalf("zero TTL never expires")
	}
}

func TestDirReady(t *testing.T) {
	fsys := afero.NewMemMapFs()
	ready := DirReady(fsys, "/cache")
	if err := ready(); err == nil {
		t.Fatalf("missing directory should be reported")
	}
	if err := fsys.MkdirAll("/cache", 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := ready(); err != nil {
		t.Fatalf("existing directory should be ready: %v", err)
	}
	if err := afero.WriteFile(fsys, "/file", []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := DirReady(fsys, "/file")(); err == nil {
		t.Fatalf("regular file should not count as cache directory")
	}
}
