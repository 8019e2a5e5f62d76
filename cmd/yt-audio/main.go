package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ytget/yt-audio/internal/logger"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	_ = logger.Sync()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
