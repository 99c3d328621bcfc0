package update

import (
	"context"
	"time"
)

// ReleaseAsset is a downloadable file attached to a release.
type ReleaseAsset struct {
	Name string
	URL  string
	// Size in bytes, or 0 when the source does not report it.
	Size int64
}

// Release is a published version of the application.
// Version is zero until Resolve parses Tag.
type Release struct {
	Tag         string
	Version     Version
	Name        string
	Notes       string
	URL         string
	PublishedAt time.Time
	Prerelease  bool
	Draft       bool
	Assets      []ReleaseAsset
}

// ReleaseSource lists the releases of one application, in any order.
type ReleaseSource interface {
	Releases(ctx context.Context) ([]Release, error)
}
