// Package model fetches weight files over HTTP with checksum verification.
package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// LockFileName records fetched files next to them so repeat fetches can
// skip unchanged downloads.
const LockFileName = "download-manifest.lock.json"

type DownloadOptions struct {
	URL string
	// SHA256 is the expected hex digest. When empty it is resolved from
	// the lock file or the server's ETag headers; if neither yields one the
	// file is downloaded unverified and its digest reported.
	SHA256 string
	// OutPath defaults to the last URL path element in the current directory.
	OutPath string
	Token   string
	// Validate, when set, checks the downloaded file before it replaces
	// OutPath.
	Validate func(path string) error
	Client   *http.Client
	Stdout   io.Writer
}

type ErrAccessDenied struct {
	URL string
	Msg string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}

	return fmt.Sprintf("access denied for %s", e.URL)
}

type lockManifest struct {
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// Download fetches opts.URL into opts.OutPath and returns the file's
// SHA-256 digest.
func Download(ctx context.Context, opts DownloadOptions) (string, error) {
	if opts.URL == "" {
		return "", errors.New("url is required")
	}

	if opts.SHA256 != "" && !isSHA256Hex(opts.SHA256) {
		return "", fmt.Errorf("invalid sha256 %q", opts.SHA256)
	}

	if opts.OutPath == "" {
		name, err := fileNameFromURL(opts.URL)
		if err != nil {
			return "", err
		}

		opts.OutPath = name
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}

	dir := filepath.Dir(opts.OutPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create out dir: %w", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	lock := readLockManifest(lockPath)
	key := filepath.Base(opts.OutPath)

	expected := strings.ToLower(opts.SHA256)
	if expected == "" {
		if lr, ok := lock.Files[key]; ok && lr.URL == opts.URL && isSHA256Hex(lr.SHA256) {
			expected = strings.ToLower(lr.SHA256)
		} else {
			expected = resolveChecksumFromMetadata(ctx, client, opts.URL, opts.Token)
		}
	}

	if expected != "" {
		if ok, err := existingMatches(opts.OutPath, expected); err != nil {
			return "", err
		} else if ok {
			fmt.Fprintf(opts.Stdout, "skip %s (checksum match)\n", opts.OutPath)
			return expected, nil
		}
	}

	fmt.Fprintf(opts.Stdout, "download %s -> %s\n", opts.URL, opts.OutPath)

	actual, err := downloadWithProgress(ctx, client, opts, expected)
	if err != nil {
		return "", err
	}

	if expected == "" {
		fmt.Fprintf(opts.Stdout, "downloaded %s (sha256=%s, unverified)\n", opts.OutPath, actual)
	} else {
		fmt.Fprintf(opts.Stdout, "verified %s (sha256=%s)\n", opts.OutPath, actual)
	}

	lock.Generated = time.Now().UTC().Format(time.RFC3339)
	lock.Files[key] = lockRecord{URL: opts.URL, SHA256: actual}

	if err := writeLockManifest(lockPath, lock); err != nil {
		return "", err
	}

	return actual, nil
}

func fileNameFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("cannot derive a file name from %q; set an output path", raw)
	}

	return name, nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("stat existing file: %w", err)
	}

	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}

	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}

	return actual == expected, nil
}

// downloadWithProgress streams the body into a temp file beside OutPath,
// hashing as it goes, and renames it into place once the digest and the
// optional validator accept it.
func downloadWithProgress(ctx context.Context, client *http.Client, opts DownloadOptions, expected string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	setAuth(req, opts.Token)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &ErrAccessDenied{
			URL: opts.URL,
			Msg: fmt.Sprintf("access denied for %s; provide a token with --token", opts.URL),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed for %s: %s", opts.URL, resp.Status)
	}

	tmp := opts.OutPath + ".tmp"

	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fail := func(err error) (string, error) {
		_ = fh.Close()
		_ = os.Remove(tmp)

		return "", err
	}

	h := sha256.New()
	mw := io.MultiWriter(fh, h)
	total := resp.ContentLength
	lastPrint := time.Now()

	var written int64

	buf := make([]byte, 64*1024)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			wn, writeErr := mw.Write(buf[:n])
			if writeErr != nil {
				return fail(fmt.Errorf("write temp file: %w", writeErr))
			}

			written += int64(wn)

			if time.Since(lastPrint) > 700*time.Millisecond {
				if total > 0 {
					pct := float64(written) * 100 / float64(total)
					fmt.Fprintf(opts.Stdout, "  progress: %.1f%% (%s/%s)\n", pct, humanize.Bytes(uint64(written)), humanize.Bytes(uint64(total)))
				} else {
					fmt.Fprintf(opts.Stdout, "  progress: %s\n", humanize.Bytes(uint64(written)))
				}

				lastPrint = time.Now()
			}
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return fail(fmt.Errorf("download read failed: %w", readErr))
		}
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if expected != "" && actual != expected {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("checksum mismatch for %s: expected %s got %s", opts.OutPath, expected, actual)
	}

	if opts.Validate != nil {
		if err := opts.Validate(tmp); err != nil {
			_ = os.Remove(tmp)
			return "", fmt.Errorf("validate %s: %w", opts.OutPath, err)
		}
	}

	if err := os.Rename(tmp, opts.OutPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}

	return actual, nil
}

// resolveChecksumFromMetadata asks the server for a SHA-256 ETag. Any
// failure yields "" so the caller falls back to an unverified download.
func resolveChecksumFromMetadata(ctx context.Context, client *http.Client, rawURL, token string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ""
	}

	setAuth(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return ""
	}

	for _, key := range []string{"X-Linked-Etag", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v)
		}
	}

	return ""
}

func setAuth(req *http.Request, token string) {
	if token == "" {
		return
	}

	req.Header.Set("Authorization", "Bearer "+token)
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "\"")
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")

	return v
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLockManifest(path string) lockManifest {
	out := lockManifest{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	if err := json.Unmarshal(b, &out); err != nil {
		return lockManifest{Files: map[string]lockRecord{}}
	}

	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}

	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}

	return nil
}
