package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/nutanix/nai-llm/pkg/logging"
)

const (
	// DefaultEndpoint is the public Hugging Face hub endpoint.
	DefaultEndpoint = "https://huggingface.co"
	// defaultConcurrency bounds parallel file fetches within one snapshot.
	defaultConcurrency = 4
)

// DefaultIgnoreSuffixes lists the weight-file formats excluded from snapshot
// downloads. The handlers load the PyTorch checkpoints, so alternative
// serializations of the same tensors would only waste transfer and disk.
var DefaultIgnoreSuffixes = []string{
	".safetensors",
	".safetensors.index.json",
	".h5",
	".ot",
	".tflite",
	".msgpack",
	".onnx",
}

// Client downloads model repositories from a Hugging Face-compatible hub.
type Client struct {
	log         logging.Logger
	endpoint    string
	token       string
	httpClient  *http.Client
	concurrency int
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the hub endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithToken sets the bearer token used for gated repositories.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithConcurrency bounds the number of files fetched in parallel during a
// snapshot download.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewClient creates a hub client.
func NewClient(log logging.Logger, opts ...Option) *Client {
	client := &Client{
		log:         log,
		endpoint:    DefaultEndpoint,
		httpClient:  http.DefaultClient,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// HasToken reports whether the client carries an access token.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// repoInfo is the subset of the hub's model-info response that we consume.
type repoInfo struct {
	SHA      string `json:"sha"`
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

// ListFiles returns the file names in a repository at the given revision.
func (c *Client) ListFiles(ctx context.Context, repo, revision string) ([]string, error) {
	infoURL := fmt.Sprintf("%s/api/models/%s/revision/%s", c.endpoint, repo, url.PathEscape(revision))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, &Error{Repo: repo, Op: "list files of", Err: err}
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Repo: repo, Op: "list files of", Err: err}
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, &Error{Repo: repo, Op: "list files of", Err: err}
	}

	var info repoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &Error{Repo: repo, Op: "list files of", Err: fmt.Errorf("decode repository info: %w", err)}
	}
	files := make([]string, 0, len(info.Siblings))
	for _, sibling := range info.Siblings {
		files = append(files, sibling.RFilename)
	}
	return files, nil
}

// Snapshot describes a completed snapshot download.
type Snapshot struct {
	// Files maps repository-relative file names to their content digests.
	Files map[string]digest.Digest
	// TotalSize is the summed size in bytes of all downloaded files.
	TotalSize int64
}

// Download fetches every file of the repository at the given revision into
// dest, skipping files matching the ignore suffix list. dest must be empty or
// absent. Files are fetched with bounded parallelism; a failure aborts the
// whole snapshot and the partial state is left for the caller to clear.
func (c *Client) Download(ctx context.Context, repo, revision, dest string, ignore []string) (*Snapshot, error) {
	if err := ensureEmptyDir(dest); err != nil {
		return nil, &Error{Repo: repo, Op: "download", Err: err}
	}

	files, err := c.ListFiles(ctx, repo, revision)
	if err != nil {
		return nil, err
	}
	files = filterIgnored(files, ignore)
	if len(files) == 0 {
		return nil, &Error{Repo: repo, Op: "download", Err: fmt.Errorf("no files to download at revision %s", revision)}
	}

	c.log.Infof("Downloading %d files from %s@%s", len(files), repo, revision)

	snapshot := &Snapshot{Files: make(map[string]digest.Digest, len(files))}
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for _, file := range files {
		file := file
		group.Go(func() error {
			size, dgst, err := c.downloadFile(groupCtx, repo, revision, file, dest)
			if err != nil {
				return &Error{Repo: repo, Op: "download", Err: fmt.Errorf("fetch %s: %w", file, err)}
			}
			mu.Lock()
			snapshot.Files[file] = dgst
			snapshot.TotalSize += size
			mu.Unlock()
			c.log.Infof("Downloaded %s (%s)", file, units.HumanSize(float64(size)))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	c.log.Infof("Snapshot of %s@%s complete (%s)", repo, revision, units.HumanSize(float64(snapshot.TotalSize)))
	return snapshot, nil
}

// VerifyLocal compares the files present under dir with the repository's file
// list at the given revision, taking the ignore suffix list into account.
func (c *Client) VerifyLocal(ctx context.Context, repo, revision, dir string, ignore []string) (bool, error) {
	expected, err := c.ListFiles(ctx, repo, revision)
	if err != nil {
		return false, err
	}
	expected = filterIgnored(expected, ignore)

	local, err := listLocalFiles(dir)
	if err != nil {
		return false, &Error{Repo: repo, Op: "verify", Err: err}
	}
	return sameFileSet(expected, local), nil
}

func (c *Client) downloadFile(ctx context.Context, repo, revision, file, dest string) (int64, digest.Digest, error) {
	fileURL := fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repo, url.PathEscape(revision), file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, "", err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return 0, "", err
	}

	target := filepath.Join(dest, filepath.FromSlash(file))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, "", err
	}
	out, err := os.Create(target)
	if err != nil {
		return 0, "", err
	}

	digester := digest.Canonical.Digester()
	size, err := io.Copy(io.MultiWriter(out, digester.Hash()), resp.Body)
	if err != nil {
		out.Close()
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		return 0, "", err
	}
	return size, digester.Digest(), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrGatedRepository
	case resp.StatusCode == http.StatusNotFound:
		return ErrRepositoryNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func ensureEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return ErrDestinationNotEmpty
	}
	return nil
}

func filterIgnored(files, ignore []string) []string {
	if len(ignore) == 0 {
		return files
	}
	filtered := files[:0:0]
	for _, file := range files {
		skip := false
		for _, suffix := range ignore {
			if strings.HasSuffix(file, suffix) {
				skip = true
				break
			}
		}
		if !skip {
			filtered = append(filtered, file)
		}
	}
	return filtered
}

// listLocalFiles returns the slash-separated relative paths of all regular
// files under dir.
func listLocalFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, path.Clean(filepath.ToSlash(rel)))
		return nil
	})
	return files, err
}

func sameFileSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, f := range a {
		counts[f]++
	}
	for _, f := range b {
		counts[f]--
		if counts[f] < 0 {
			return false
		}
	}
	return true
}
