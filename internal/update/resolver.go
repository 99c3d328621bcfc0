package update

import (
	"fmt"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// ResolutionStatus is the outcome of comparing the running version to the
// published releases.
type ResolutionStatus int

const (
	// StatusUpToDate means no published version is newer.
	StatusUpToDate ResolutionStatus = iota
	// StatusAvailable means a newer version has an asset for the target.
	StatusAvailable
	// StatusIncompatible means a newer version exists but ships no asset
	// for the target.
	StatusIncompatible
)

// String returns the string representation of a ResolutionStatus.
func (s ResolutionStatus) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusIncompatible:
		return "incompatible"
	default:
		return "up-to-date"
	}
}

// UpdatePlan describes one update: what to install and from where.
// A plan is consumed by the first Download made with it.
type UpdatePlan struct {
	Current Version
	Target  Version
	Release Release
	Asset   ReleaseAsset
	Kind    ArtifactKind
	// Platform is the target the asset was selected for.
	Platform PlatformTarget

	consumed *bool
}

// Resolution is the result of Resolve.
type Resolution struct {
	Status ResolutionStatus
	// Plan is set when Status is StatusAvailable.
	Plan *UpdatePlan
	// Latest is the newest eligible release when one is newer than current.
	Latest *Release
}

// Err reports StatusIncompatible as a no_compatible_asset error.
func (r Resolution) Err() error {
	if r.Status != StatusIncompatible || r.Latest == nil {
		return nil
	}
	return apperrors.New(apperrors.CodeNoCompatibleAsset,
		fmt.Sprintf("version %s has no asset for this platform", r.Latest.Version), nil)
}

// ResolveOptions tunes which releases are eligible.
type ResolveOptions struct {
	// AllowPrerelease admits pre-releases even when current is a release.
	AllowPrerelease bool
}

// Resolve picks the newest eligible release strictly newer than current
// and matches an asset for target. Publish order is ignored; versions decide.
// Drafts are never eligible. Pre-releases are eligible when opted in or
// when current is itself a pre-release.
func Resolve(current Version, releases []Release, target PlatformTarget, opts ResolveOptions) (Resolution, error) {
	allowPre := opts.AllowPrerelease || current.IsPrerelease()

	var latest *Release
	for i := range releases {
		r := releases[i]
		if r.Draft {
			continue
		}
		v, err := ParseVersion(r.Tag)
		if err != nil {
			return Resolution{}, apperrors.New(apperrors.CodeResolution,
				fmt.Sprintf("release %q has a malformed version", r.Tag), err)
		}
		if (r.Prerelease || v.IsPrerelease()) && !allowPre {
			continue
		}
		if !IsNewer(v, current) {
			continue
		}
		if latest == nil || IsNewer(v, latest.Version) {
			r.Version = v
			latest = &r
		}
	}

	if latest == nil {
		debug.Logf("resolve: %s is up to date", current)
		return Resolution{Status: StatusUpToDate}, nil
	}

	asset, ok := SelectAsset(latest.Assets, target)
	if !ok {
		debug.Logf("resolve: %s is newer but has no asset for %s", latest.Version, target)
		return Resolution{Status: StatusIncompatible, Latest: latest}, nil
	}

	debug.Logf("resolve: %s -> %s using %s", current, latest.Version, asset.Name)
	return Resolution{
		Status: StatusAvailable,
		Latest: latest,
		Plan: &UpdatePlan{
			Current:  current,
			Target:   latest.Version,
			Release:  *latest,
			Asset:    asset,
			Kind:     KindOf(asset.Name),
			Platform: target,
			consumed: new(bool),
		},
	}, nil
}

// claim marks the plan as used, failing if it already was.
// Copies of a plan share the same claim.
func (p *UpdatePlan) claim() error {
	if p == nil {
		return apperrors.New(apperrors.CodeConfigurationError, "no update plan", nil)
	}
	if p.consumed == nil {
		p.consumed = new(bool)
	}
	if *p.consumed {
		return apperrors.New(apperrors.CodeConfigurationError,
			fmt.Sprintf("update plan for %s was already downloaded", p.Target), nil)
	}
	*p.consumed = true
	return nil
}

// unclaim undoes claim so a failed download can be retried with the same plan.
func (p *UpdatePlan) unclaim() {
	if p != nil && p.consumed != nil {
		*p.consumed = false
	}
}
