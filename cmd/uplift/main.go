package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	apperrors "uplift/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(newApp(os.Stdout, os.Stderr)).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status documented in the
// root command's help.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch apperrors.CodeOf(err) {
	case apperrors.CodeConfigurationError:
		return 2
	case apperrors.CodeNoCompatibleAsset:
		return 3
	case apperrors.CodeElevationDenied:
		return 4
	case apperrors.CodeRollbackFailure:
		return 5
	default:
		return 1
	}
}
