package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestCodeOfWalksChain(t *testing.T) {
	base := New(CodeElevationDenied, "user declined administrator prompt", fs.ErrPermission)
	wrapped := fmt.Errorf("install: %w", base)

	if got := CodeOf(wrapped); got != CodeElevationDenied {
		t.Errorf("CodeOf() = %q, want %q", got, CodeElevationDenied)
	}
	if !IsCode(wrapped, CodeElevationDenied) {
		t.Error("IsCode() should match through fmt.Errorf wrapping")
	}
	if !errors.Is(wrapped, fs.ErrPermission) {
		t.Error("underlying error should remain reachable via errors.Is")
	}
}

func TestCodeOfUnknown(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Errorf("CodeOf(plain) = %q, want %q", got, CodeUnknown)
	}
	if got := CodeOf(nil); got != CodeUnknown {
		t.Errorf("CodeOf(nil) = %q, want %q", got, CodeUnknown)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  Error
		want string
	}{
		{"message and cause", New(CodeDownload, "download failed", errors.New("eof")), "download failed: eof"},
		{"message only", New(CodeNoCompatibleAsset, "no asset for windows/arm64", nil), "no asset for windows/arm64"},
		{"cause only", New(CodeIO, "", errors.New("disk full")), "disk full"},
		{"code only", New(CodeTimeout, "", nil), "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecoverable(t *testing.T) {
	if !Recoverable(nil) {
		t.Error("nil error should be recoverable")
	}
	if !Recoverable(New(CodeElevationDenied, "declined", nil)) {
		t.Error("elevation denial should be recoverable")
	}
	if Recoverable(fmt.Errorf("swap: %w", New(CodeRollbackFailure, "restore failed", nil))) {
		t.Error("rollback failure must not be recoverable")
	}
}
