package update

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	apperrors "uplift/internal/errors"
)

// manifest is the on-disk release feed read by FileSource.
//
//	releases:
//	  - tag: v0.2.0
//	    notes: Bug fixes
//	    assets:
//	      - name: MyApp-0.2.0-mac-universal.app.zip
//	        url: https://mirror.example.com/MyApp-0.2.0-mac-universal.app.zip
//	        size: 18342211
type manifest struct {
	Releases []manifestRelease `json:"releases" yaml:"releases" toml:"releases"`
}

type manifestRelease struct {
	Tag         string          `json:"tag" yaml:"tag" toml:"tag"`
	Name        string          `json:"name" yaml:"name" toml:"name"`
	Notes       string          `json:"notes" yaml:"notes" toml:"notes"`
	URL         string          `json:"url" yaml:"url" toml:"url"`
	PublishedAt time.Time       `json:"published_at" yaml:"published_at" toml:"published_at"`
	Prerelease  bool            `json:"prerelease" yaml:"prerelease" toml:"prerelease"`
	Draft       bool            `json:"draft" yaml:"draft" toml:"draft"`
	Assets      []manifestAsset `json:"assets" yaml:"assets" toml:"assets"`
}

type manifestAsset struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	URL  string `json:"url" yaml:"url" toml:"url"`
	Size int64  `json:"size" yaml:"size" toml:"size"`
}

// FileSource reads releases from a local manifest, for mirrors and
// offline feeds. The format follows the extension: .yaml/.yml, .toml, or .json.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the manifest at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Releases reads and decodes the manifest on every call.
func (s *FileSource) Releases(ctx context.Context) ([]Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	//nolint:gosec // G304: Manifest path comes from user configuration
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeIO, "read release manifest", err)
	}

	var m manifest
	if err := decodeManifest(s.path, data, &m); err != nil {
		return nil, apperrors.New(apperrors.CodeParse, fmt.Sprintf("decode release manifest %s", s.path), err)
	}

	releases := make([]Release, 0, len(m.Releases))
	for _, r := range m.Releases {
		assets := make([]ReleaseAsset, 0, len(r.Assets))
		for _, a := range r.Assets {
			assets = append(assets, ReleaseAsset(a))
		}
		releases = append(releases, Release{
			Tag:         r.Tag,
			Name:        r.Name,
			Notes:       r.Notes,
			URL:         r.URL,
			PublishedAt: r.PublishedAt,
			Prerelease:  r.Prerelease,
			Draft:       r.Draft,
			Assets:      assets,
		})
	}
	return releases, nil
}

func decodeManifest(path string, data []byte, m *manifest) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, m)
	case ".toml":
		return toml.Unmarshal(data, m)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(m)
	default:
		return fmt.Errorf("unsupported manifest extension %q", filepath.Ext(path))
	}
}
