package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "uplift/internal/errors"
)

// DefaultAPIBaseURL is the public GitHub REST endpoint.
const DefaultAPIBaseURL = "https://api.github.com"

// releasesPerPage is the largest page size the releases endpoint allows.
const releasesPerPage = 100

// ErrRateLimited is wrapped into the error returned when GitHub refuses the request.
var ErrRateLimited = errors.New("rate limited by GitHub API")

// githubAsset mirrors the asset fields of the GitHub releases API.
type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	ContentType        string `json:"content_type"`
	Size               int64  `json:"size"`
}

// githubRelease mirrors the release fields of the GitHub releases API.
type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	Body        string        `json:"body"`
	HTMLURL     string        `json:"html_url"`
	PublishedAt time.Time     `json:"published_at"`
	Prerelease  bool          `json:"prerelease"`
	Draft       bool          `json:"draft"`
	Assets      []githubAsset `json:"assets"`
}

func (r githubRelease) toRelease() Release {
	assets := make([]ReleaseAsset, 0, len(r.Assets))
	for _, a := range r.Assets {
		assets = append(assets, ReleaseAsset{Name: a.Name, URL: a.BrowserDownloadURL, Size: a.Size})
	}
	return Release{
		Tag:         r.TagName,
		Name:        r.Name,
		Notes:       r.Body,
		URL:         r.HTMLURL,
		PublishedAt: r.PublishedAt,
		Prerelease:  r.Prerelease,
		Draft:       r.Draft,
		Assets:      assets,
	}
}

// GitHubSource lists releases of a GitHub repository.
type GitHubSource struct {
	owner      string
	repo       string
	baseURL    string
	headers    map[string]string
	timeout    time.Duration
	httpClient *http.Client
}

// SourceOption configures a GitHubSource.
type SourceOption func(*GitHubSource)

// WithHTTPClient sets a custom HTTP client for the source.
func WithHTTPClient(client *http.Client) SourceOption {
	return func(s *GitHubSource) {
		s.httpClient = client
	}
}

// WithTimeout bounds each listing request.
func WithTimeout(timeout time.Duration) SourceOption {
	return func(s *GitHubSource) {
		s.timeout = timeout
	}
}

// WithHeaders sets extra request headers, such as Authorization.
func WithHeaders(headers map[string]string) SourceOption {
	return func(s *GitHubSource) {
		s.headers = headers
	}
}

// WithBaseURL points the source at a GitHub Enterprise or test server.
func WithBaseURL(baseURL string) SourceOption {
	return func(s *GitHubSource) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewGitHubSource creates a release source for the specified repository.
func NewGitHubSource(owner, repo string, opts ...SourceOption) *GitHubSource {
	s := &GitHubSource{
		owner:      owner,
		repo:       repo,
		baseURL:    DefaultAPIBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Releases fetches the most recent page of releases, newest first as
// GitHub returns them. Ordering is not relied upon by Resolve.
func (s *GitHubSource) Releases(ctx context.Context) ([]Release, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d", s.baseURL, s.owner, s.repo, releasesPerPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeConfigurationError, "create release request", err)
	}
	applyHeaders(req, s.headers, "application/vnd.github.v3+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, networkError(ctx, "list releases", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.New(apperrors.CodeDownload, "list releases", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.CodeDownload, fmt.Sprintf("list releases: status %d", resp.StatusCode), nil)
	}

	var payload []githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if ctx.Err() != nil {
			return nil, networkError(ctx, "list releases", err)
		}
		return nil, apperrors.New(apperrors.CodeParse, "decode release list", err)
	}

	releases := make([]Release, 0, len(payload))
	for _, r := range payload {
		releases = append(releases, r.toRelease())
	}
	return releases, nil
}
