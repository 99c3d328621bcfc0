//go:build !unix

package update

// sameDevice always reports true; the bundle swap only runs on macOS.
func sameDevice(a, b string) (bool, error) {
	return true, nil
}
