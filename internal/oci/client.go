package oci

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
)

const defaultRegistry = "https://registry-1.docker.io/v2"

// DownloadProgress represents the current state of a download.
type DownloadProgress struct {
	Current  int64
	Total    int64
	Filename string

	BlobIndex int
	BlobCount int

	BytesPerSecond float64
	ETA            time.Duration
}

// ProgressCallback is called periodically during downloads.
type ProgressCallback func(progress DownloadProgress)

// Client is an OCI registry client that handles image pulling and
// on-disk caching of blobs, manifests, and extracted layer trees.
type Client struct {
	cacheDir         string
	logger           *slog.Logger
	client           *http.Client
	progressCallback ProgressCallback
}

// NewClient creates a new OCI client rooted at cacheDir (a default
// under the user config directory is used if empty).
func NewClient(cacheDir string) (*Client, error) {
	if cacheDir == "" {
		cfg, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("get user config dir: %w", err)
		}
		cacheDir = filepath.Join(cfg, "msandbox", "oci")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", cacheDir, err)
	}
	return &Client{
		cacheDir: cacheDir,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
		client:   &http.Client{Timeout: 0},
	}, nil
}

// SetProgressCallback installs a callback invoked during blob
// downloads in place of the default terminal progress bar.
func (c *Client) SetProgressCallback(cb ProgressCallback) { c.progressCallback = cb }

// registryContext holds the bearer token and HTTP client for a pull
// against a single registry. Tokens are refetched per 401, never
// cached across contexts (spec.md §4.C: "complexity of caching is not
// worth the gain").
type registryContext struct {
	logger   *slog.Logger
	client   *http.Client
	registry string
	token    string
}

func (rc *registryContext) makeRequest(method, url string, accept []string, rangeHeader string) (*http.Request, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	if rc.token != "" {
		req.Header.Set("Authorization", "Bearer "+rc.token)
	}
	for _, val := range accept {
		req.Header.Add("Accept", val)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req, nil
}

// handleResponse returns true when resp is ready to be consumed by
// the caller, false when it refetched a token and the request should
// be retried.
func (rc *registryContext) handleResponse(resp *http.Response) (bool, error) {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return true, nil
	case http.StatusUnauthorized:
		authHeader := resp.Header.Get("www-authenticate")
		resp.Body.Close()

		authParams, err := parseAuthenticate(authHeader)
		if err != nil {
			return false, fmt.Errorf("parse authenticate header: %w", err)
		}

		tokenURL := fmt.Sprintf("%s?service=%s&scope=%s",
			authParams["realm"], authParams["service"], authParams["scope"])
		rc.logger.Debug("requesting registry token", slog.String("url", tokenURL))

		req, err := http.NewRequest(http.MethodGet, tokenURL, nil)
		if err != nil {
			return false, fmt.Errorf("build token request: %w", err)
		}
		resp, err := rc.client.Do(req)
		if err != nil {
			return false, fmt.Errorf("request registry token: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false, fmt.Errorf("token request failed: %s", resp.Status)
		}

		var token tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return false, fmt.Errorf("decode token response: %w", err)
		}
		switch {
		case token.Token != "":
			rc.token = token.Token
		case token.AccessToken != "":
			rc.token = token.AccessToken
		default:
			return false, errors.New("token response missing token field")
		}
		return false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return false, fmt.Errorf("registry request failed: %s (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
}

func parseAuthenticate(value string) (map[string]string, error) {
	if value == "" {
		return nil, fmt.Errorf("missing authenticate header")
	}
	value = strings.TrimPrefix(value, "Bearer ")
	ret := make(map[string]string)
	for _, token := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(token, "=")
		if !ok {
			return nil, fmt.Errorf("malformed authenticate header segment %q", token)
		}
		ret[strings.TrimSpace(key)] = strings.Trim(val, "\" ")
	}
	return ret, nil
}

func (c *Client) cacheKey(path string, accept []string) string {
	sum := sha256.Sum256([]byte(path + "\x00" + strings.Join(accept, ",")))
	return fmt.Sprintf("%s_%s", sanitizeForFilename(path), hex.EncodeToString(sum[:8]))
}

func sanitizeForFilename(value string) string {
	value = strings.TrimPrefix(value, "/")
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '/', '\\', ':', '?', '*', '"', '<', '>', '|', ' ':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "root"
	}
	return b.String()
}

// fetchToCache downloads a small registry artifact (index, manifest,
// config) to a cache-keyed file, with no resume support — these are
// never large enough to be worth it.
func (c *Client) fetchToCache(rc *registryContext, path string, accept []string) (string, error) {
	cachePath := filepath.Join(c.cacheDir, c.cacheKey(path, accept))
	if _, err := os.Stat(cachePath); err == nil {
		rc.logger.Debug("cache hit", slog.String("cache", cachePath))
		return cachePath, nil
	}

	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := rc.makeRequest(http.MethodGet, rc.registry+path, accept, "")
		if err != nil {
			return "", fmt.Errorf("build registry request: %w", err)
		}
		resp, err := rc.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("execute registry request: %w", err)
		}
		ok, err := rc.handleResponse(resp)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		defer resp.Body.Close()

		tmpFile, err := os.CreateTemp(c.cacheDir, "oci_*")
		if err != nil {
			return "", fmt.Errorf("create temp cache file: %w", err)
		}
		if _, err := io.Copy(tmpFile, resp.Body); err != nil {
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return "", fmt.Errorf("write cache file: %w", err)
		}
		if err := tmpFile.Close(); err != nil {
			os.Remove(tmpFile.Name())
			return "", fmt.Errorf("close cache file: %w", err)
		}
		if err := os.Rename(tmpFile.Name(), cachePath); err != nil {
			os.Remove(tmpFile.Name())
			return "", fmt.Errorf("finalize cache file: %w", err)
		}
		return cachePath, nil
	}
	return "", fmt.Errorf("failed to fetch %s after %d attempts", path, maxAttempts)
}

// fetchBlobToCache downloads a content-addressed layer blob,
// resuming a previously interrupted download via an HTTP Range
// request when a smaller partial file is already on disk (spec.md
// §4.C item 3). A partial file already at declaredSize is reused
// without a request; one past declaredSize is discarded and refetched
// from scratch (corrupt). Before a blob is moved into the cache its
// digest is verified; on a mismatch the file is deleted and an error
// returned.
func (c *Client) fetchBlobToCache(rc *registryContext, path, digest string, declaredSize int64, blobIndex, blobCount int) (string, error) {
	cachePath := filepath.Join(c.cacheDir, "blobs", sanitizeForFilename(digest))
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return "", fmt.Errorf("create blob cache dir: %w", err)
	}

	partialPath := cachePath + ".partial"
	var resumeFrom int64
	if info, err := os.Stat(cachePath); err == nil {
		if declaredSize <= 0 || info.Size() == declaredSize {
			rc.logger.Debug("blob cache hit", slog.String("digest", digest))
			return cachePath, nil
		}
		// Cached file present but wrong size: treat as corrupt.
		os.Remove(cachePath)
	}
	if info, err := os.Stat(partialPath); err == nil {
		switch {
		case declaredSize > 0 && info.Size() > declaredSize:
			os.Remove(partialPath)
		case declaredSize > 0 && info.Size() == declaredSize:
			// Download already complete: verify the digest and reuse it.
			if err := verifyDigest(partialPath, digest); err != nil {
				os.Remove(partialPath)
				return "", fmt.Errorf("blob %s: %w", digest, err)
			}
			if err := os.Rename(partialPath, cachePath); err != nil {
				return "", fmt.Errorf("finalize blob file: %w", err)
			}
			return cachePath, nil
		default:
			resumeFrom = info.Size()
		}
	}

	rangeHeader := ""
	openFlag := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-", resumeFrom)
		openFlag |= os.O_APPEND
		rc.logger.Debug("resuming blob download", slog.String("digest", digest), slog.Int64("from", resumeFrom))
	} else {
		openFlag |= os.O_TRUNC
	}

	req, err := rc.makeRequest(http.MethodGet, rc.registry+path, nil, rangeHeader)
	if err != nil {
		return "", fmt.Errorf("build blob request: %w", err)
	}
	resp, err := rc.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute blob request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if _, err := rc.handleResponse(resp); err != nil {
			return "", err
		}
		return c.fetchBlobToCache(rc, path, digest, declaredSize, blobIndex, blobCount)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("fetch blob %s: %s (%s)", digest, resp.Status, strings.TrimSpace(string(body)))
	}
	if rangeHeader != "" && resp.StatusCode != http.StatusPartialContent {
		// Registry ignored the Range request; start over.
		resumeFrom = 0
		openFlag = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	f, err := os.OpenFile(partialPath, openFlag, 0o644)
	if err != nil {
		return "", fmt.Errorf("open partial blob file: %w", err)
	}

	total := declaredSize
	if total <= 0 {
		total = resp.ContentLength
	}
	title := fmt.Sprintf("layer %s", digest)
	var writer io.Writer = f
	var bar *progressbar.ProgressBar
	if c.progressCallback != nil {
		writer = &progressWriter{
			w: f, total: total, filename: digest,
			callback: c.progressCallback, blobIndex: blobIndex, blobCount: blobCount,
			current: resumeFrom,
		}
	} else if total > 0 {
		bar = progressbar.DefaultBytes(total-resumeFrom, title)
		defer bar.Close()
		writer = io.MultiWriter(f, bar)
	} else {
		bar = progressbar.DefaultBytes(-1, title)
		defer bar.Close()
		writer = io.MultiWriter(f, bar)
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("write blob %s: %w", digest, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close blob file: %w", err)
	}

	if declaredSize > 0 {
		if info, err := os.Stat(partialPath); err != nil {
			return "", fmt.Errorf("stat downloaded blob: %w", err)
		} else if info.Size() != declaredSize {
			os.Remove(partialPath)
			return "", fmt.Errorf("blob %s: size mismatch after download: got %d, want %d", digest, info.Size(), declaredSize)
		}
	}

	if err := verifyDigest(partialPath, digest); err != nil {
		os.Remove(partialPath)
		return "", fmt.Errorf("blob %s: %w", digest, err)
	}
	if err := os.Rename(partialPath, cachePath); err != nil {
		return "", fmt.Errorf("finalize blob file: %w", err)
	}
	return cachePath, nil
}

func (c *Client) readJSON(rc *registryContext, path string, accept []string, out any) (string, error) {
	cachePath, err := c.fetchToCache(rc, path, accept)
	if err != nil {
		return "", err
	}
	f, err := os.Open(cachePath)
	if err != nil {
		return "", fmt.Errorf("open cache file %s: %w", cachePath, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(out); err != nil {
		return "", fmt.Errorf("decode %s: %w", cachePath, err)
	}
	return cachePath, nil
}

// progressWriter wraps an io.Writer and reports progress via a
// callback, smoothing instantaneous speed with an exponential moving
// average to estimate ETA.
type progressWriter struct {
	w         io.Writer
	current   int64
	total     int64
	filename  string
	callback  ProgressCallback
	blobIndex int
	blobCount int

	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	speed      float64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.current += int64(n)

	now := time.Now()
	if pw.startTime.IsZero() {
		pw.startTime = now
		pw.lastUpdate = now
		pw.lastBytes = pw.current
	}
	elapsed := now.Sub(pw.lastUpdate).Seconds()
	if elapsed >= 0.1 {
		instant := float64(pw.current-pw.lastBytes) / elapsed
		if pw.speed == 0 {
			pw.speed = instant
		} else {
			pw.speed = 0.3*instant + 0.7*pw.speed
		}
		pw.lastUpdate = now
		pw.lastBytes = pw.current
	}

	eta := time.Duration(-1)
	if pw.speed > 0 && pw.total > 0 {
		if remaining := pw.total - pw.current; remaining > 0 {
			eta = time.Duration(float64(remaining)/pw.speed) * time.Second
		} else {
			eta = 0
		}
	}

	pw.callback(DownloadProgress{
		Current: pw.current, Total: pw.total, Filename: pw.filename,
		BlobIndex: pw.blobIndex, BlobCount: pw.blobCount,
		BytesPerSecond: pw.speed, ETA: eta,
	})
	return n, err
}

func verifyDigest(path, digest string) error {
	algo, want, ok := strings.Cut(digest, ":")
	if !ok || algo != "sha256" {
		return fmt.Errorf("unsupported digest algorithm in %q", digest)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return fmt.Errorf("digest mismatch: got sha256:%s, want %s", got, digest)
	}
	return nil
}

// ParseImageRef parses an OCI image reference into registry, image
// repository path, and tag-or-digest selector.
func ParseImageRef(imageRef string) (registry, image, selector string, err error) {
	image, selector, ok := strings.Cut(imageRef, ":")
	if !ok {
		selector = "latest"
	}
	if strings.Contains(image, "@sha256") {
		// Handle "repo@sha256:digest" forms where ':' split above landed
		// inside the digest rather than a tag.
		repo, digest, found := strings.Cut(imageRef, "@")
		if found {
			image, selector = repo, digest
		}
	}

	if strings.Contains(image, ".") {
		registry, image, ok = strings.Cut(image, "/")
		if !ok {
			return "", "", "", fmt.Errorf("invalid OCI image format %s", imageRef)
		}
	}
	if registry == "" || registry == "docker.io" {
		registry = defaultRegistry
	}
	if !strings.HasPrefix(registry, "http://") && !strings.HasPrefix(registry, "https://") {
		registry = "https://" + registry
	}
	if !strings.HasSuffix(registry, "/v2") {
		registry += "/v2"
	}
	if registry == defaultRegistry && !strings.Contains(image, "/") {
		image = "library/" + image
	}
	return registry, image, selector, nil
}
