// Package hub downloads files (vocabularies, tokenizer definitions, classifier weights) from
// HuggingFace model repositories into a local cache.
//
// Example:
//
//	repo := hub.New("bert-base-uncased").WithAuth(os.Getenv("HF_TOKEN"))
//	vocabPath, err := repo.DownloadFile("vocab.txt")
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultEndpoint is the HuggingFace hub address.
const DefaultEndpoint = "https://huggingface.co"

// DefaultRevision used when none is given.
const DefaultRevision = "main"

// DefaultDirCreationPerm is used when creating cache directories.
var DefaultDirCreationPerm = os.FileMode(0o755)

// Repo is a HuggingFace model repository, identified by its id (e.g. "bert-base-uncased").
//
// Create it with New, and configure it with the With* methods. It is not safe for concurrent
// configuration, but downloads of the same file from multiple processes are coordinated with
// lock files.
type Repo struct {
	ID string

	revision  string
	authToken string
	cacheDir  string
	endpoint  string
	client    *http.Client

	// fileNames is lazy-loaded by IterFileNames.
	fileNames []string
}

// New creates a Repo for the given model id.
//
// The cache directory defaults to $HF_HOME/hub, or the user cache directory, and the
// authentication token to $HF_TOKEN.
func New(id string) *Repo {
	return &Repo{
		ID:        id,
		revision:  DefaultRevision,
		authToken: os.Getenv("HF_TOKEN"),
		cacheDir:  defaultCacheDir(),
		endpoint:  DefaultEndpoint,
		client:    &http.Client{Timeout: 10 * time.Minute},
	}
}

func defaultCacheDir() string {
	if hfHome := os.Getenv("HF_HOME"); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	userCache, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "huggingface", "hub")
	}
	return filepath.Join(userCache, "huggingface", "hub")
}

// WithAuth sets the token used to access private or gated repositories.
func (r *Repo) WithAuth(token string) *Repo {
	r.authToken = token
	return r
}

// WithRevision sets the revision (branch, tag or commit hash) to download from.
func (r *Repo) WithRevision(revision string) *Repo {
	r.revision = revision
	r.fileNames = nil
	return r
}

// WithCacheDir sets the directory where files are downloaded.
func (r *Repo) WithCacheDir(dir string) *Repo {
	r.cacheDir = dir
	return r
}

// WithEndpoint overrides the hub address, e.g. for a mirror.
func (r *Repo) WithEndpoint(endpoint string) *Repo {
	r.endpoint = strings.TrimRight(endpoint, "/")
	r.fileNames = nil
	return r
}

// WithHTTPClient sets the client used for all requests.
func (r *Repo) WithHTTPClient(client *http.Client) *Repo {
	r.client = client
	return r
}

// String implements fmt.Stringer.
func (r *Repo) String() string {
	return fmt.Sprintf("%s@%s", r.ID, r.revision)
}

// repoDir is where the files of this repo/revision are cached.
func (r *Repo) repoDir() string {
	name := "models--" + strings.ReplaceAll(r.ID, "/", "--")
	return filepath.Join(r.cacheDir, name, r.revision)
}

func (r *Repo) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating request for %q", rawURL)
	}
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}
	return req, nil
}

type repoInfo struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

func (r *Repo) loadFileNames(ctx context.Context) error {
	if r.fileNames != nil {
		return nil
	}
	infoURL := fmt.Sprintf("%s/api/models/%s/revision/%s", r.endpoint, r.ID, url.PathEscape(r.revision))
	req, err := r.newRequest(ctx, infoURL)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "listing files of %s", r)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("listing files of %s: unexpected status %s", r, resp.Status)
	}
	var info repoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return errors.Wrapf(err, "decoding file list of %s", r)
	}
	fileNames := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		fileNames = append(fileNames, s.RFilename)
	}
	slices.Sort(fileNames)
	r.fileNames = fileNames
	return nil
}

// IterFileNames iterates over the file names stored in the repo.
func (r *Repo) IterFileNames() func(yield func(string, error) bool) {
	return func(yield func(string, error) bool) {
		if err := r.loadFileNames(context.Background()); err != nil {
			yield("", err)
			return
		}
		for _, name := range r.fileNames {
			if !yield(name, nil) {
				return
			}
		}
	}
}

// HasFile returns whether the repo has the given file. Errors listing the repo are reported as false.
func (r *Repo) HasFile(fileName string) bool {
	for name, err := range r.IterFileNames() {
		if err != nil {
			return false
		}
		if name == fileName {
			return true
		}
	}
	return false
}

// DownloadFile downloads the file (if not yet cached) and returns its local path.
func (r *Repo) DownloadFile(fileName string) (string, error) {
	return r.DownloadFileContext(context.Background(), fileName)
}

// DownloadFileContext is like DownloadFile, but can be cancelled with ctx.
func (r *Repo) DownloadFileContext(ctx context.Context, fileName string) (string, error) {
	if fileName == "" || strings.Contains(fileName, "..") {
		return "", errors.Errorf("invalid file name %q", fileName)
	}
	fileURL := fmt.Sprintf("%s/%s/resolve/%s/%s", r.endpoint, r.ID, url.PathEscape(r.revision), fileName)
	filePath := filepath.Join(r.repoDir(), filepath.FromSlash(fileName))
	if err := r.lockedDownload(ctx, fileURL, filePath, false); err != nil {
		return "", errors.WithMessagef(err, "while downloading %q from %s", fileName, r)
	}
	return filePath, nil
}
