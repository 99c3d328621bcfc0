// Package update discovers, downloads, and installs newer releases of a
// desktop application.
//
// This package handles:
//   - Comparing semantic versions and resolving the newest compatible release
//   - Selecting the release asset that matches the running platform
//   - Streaming downloads with progress reporting
//   - Installing on macOS by swapping the .app bundle, with rollback
//   - Handing off to a Windows installer through the runas verb
//   - Recording every install attempt in a local journal
//
// The package is designed to be isolated from UI concerns. It returns
// structured data (Resolution, UpdatePlan, Installed) that the caller can
// present however it wants.
//
// Example usage:
//
//	u, err := update.New(cfg)
//	if err != nil {
//	    // handle error
//	}
//	plan, err := u.Check(ctx)
//	if err != nil || plan == nil {
//	    // up to date, or handle error
//	}
//	artifact, err := u.Download(ctx, plan, onChunk)
//	installed, err := u.Install(ctx, artifact)
package update
