package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const helloSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

// fileServer serves body at any path and counts GET requests. etag is
// returned on HEAD and GET when non-empty.
func fileServer(t *testing.T, body, etag string, status int) (*httptest.Server, *int) {
	t.Helper()

	gets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if etag != "" {
			w.Header().Set("Etag", `"`+etag+`"`)
		}

		if status != 0 {
			w.WriteHeader(status)
			return
		}

		if r.Method == http.MethodGet {
			gets++
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(srv.Close)

	return srv, &gets
}

func TestDownload_VerifiesAndSkips(t *testing.T) {
	srv, gets := fileServer(t, "hello", "", 0)
	out := filepath.Join(t.TempDir(), "w.safetensors")

	got, err := Download(context.Background(), DownloadOptions{URL: srv.URL + "/w.safetensors", SHA256: helloSHA, OutPath: out})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if got != helloSHA {
		t.Fatalf("digest = %s", got)
	}

	if b, _ := os.ReadFile(out); string(b) != "hello" {
		t.Fatalf("file contents = %q", b)
	}

	var log strings.Builder
	if _, err := Download(context.Background(), DownloadOptions{URL: srv.URL + "/w.safetensors", OutPath: out, Stdout: &log}); err != nil {
		t.Fatalf("second Download: %v", err)
	}

	if *gets != 1 || !strings.Contains(log.String(), "skip") {
		t.Fatalf("second download should be skipped via lock file: gets=%d log=%q", *gets, log.String())
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(out), LockFileName)); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
}

func TestDownload_ChecksumMismatch(t *testing.T) {
	srv, _ := fileServer(t, "tampered", "", 0)
	out := filepath.Join(t.TempDir(), "w.bin")

	_, err := Download(context.Background(), DownloadOptions{URL: srv.URL + "/w.bin", SHA256: helloSHA, OutPath: out})
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("err = %v, want checksum mismatch", err)
	}

	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("mismatched download must not be moved into place")
	}

	if _, statErr := os.Stat(out + ".tmp"); !os.IsNotExist(statErr) {
		t.Fatal("temp file should be removed")
	}
}

func TestDownload_ETagChecksum(t *testing.T) {
	sum := sha256.Sum256([]byte("payload"))
	etag := hex.EncodeToString(sum[:])

	srv, _ := fileServer(t, "payload", etag, 0)

	var log strings.Builder

	got, err := Download(context.Background(), DownloadOptions{
		URL:     srv.URL + "/x.bin",
		OutPath: filepath.Join(t.TempDir(), "x.bin"),
		Stdout:  &log,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if got != etag || !strings.Contains(log.String(), "verified") {
		t.Fatalf("digest=%s log=%q", got, log.String())
	}
}

func TestDownload_UnverifiedWithoutChecksum(t *testing.T) {
	srv, _ := fileServer(t, "hello", "", 0)

	var log strings.Builder

	got, err := Download(context.Background(), DownloadOptions{
		URL:     srv.URL + "/x.bin",
		OutPath: filepath.Join(t.TempDir(), "x.bin"),
		Stdout:  &log,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if got != helloSHA || !strings.Contains(log.String(), "unverified") {
		t.Fatalf("digest=%s log=%q", got, log.String())
	}
}

func TestDownload_ValidatorRejects(t *testing.T) {
	srv, _ := fileServer(t, "hello", "", 0)
	out := filepath.Join(t.TempDir(), "x.bin")

	_, err := Download(context.Background(), DownloadOptions{
		URL:      srv.URL + "/x.bin",
		OutPath:  out,
		Validate: func(string) error { return errors.New("not safetensors") },
	})
	if err == nil || !strings.Contains(err.Error(), "not safetensors") {
		t.Fatalf("err = %v, want validator error", err)
	}

	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("rejected download must not be moved into place")
	}
}

func TestDownload_AccessDenied(t *testing.T) {
	srv, _ := fileServer(t, "", "", http.StatusForbidden)

	_, err := Download(context.Background(), DownloadOptions{URL: srv.URL + "/x.bin", OutPath: filepath.Join(t.TempDir(), "x.bin")})

	var denied *ErrAccessDenied
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestDownload_BadOptions(t *testing.T) {
	if _, err := Download(context.Background(), DownloadOptions{}); err == nil {
		t.Fatal("missing url should fail")
	}

	if _, err := Download(context.Background(), DownloadOptions{URL: "http://x/y", SHA256: "abc"}); err == nil {
		t.Fatal("malformed sha256 should fail")
	}

	if _, err := fileNameFromURL("http://example.com/"); err == nil {
		t.Fatal("url without a file name should fail")
	}
}

func TestNormalizeETag(t *testing.T) {
	got := normalizeETag(`W/"58aa704a88faad35f22c34ea1cb55c4c5629de8b8e035c6e4936e2673dc07617"`)
	want := "58aa704a88faad35f22c34ea1cb55c4c5629de8b8e035c6e4936e2673dc07617"

	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if !isSHA256Hex(got) {
		t.Fatalf("expected valid sha256")
	}
}

func TestExistingMatches(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.bin")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ok, err := existingMatches(p, helloSHA)
	if err != nil {
		t.Fatalf("existingMatches error: %v", err)
	}

	if !ok {
		t.Fatal("expected checksum match")
	}

	if ok, _ := existingMatches(filepath.Join(t.TempDir(), "missing"), helloSHA); ok {
		t.Fatal("missing file cannot match")
	}
}
