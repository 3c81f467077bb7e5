// Package main provides the entry point for the reviewradar CLI.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/reviewradar/reviewradar/internal/cli"
	"github.com/reviewradar/reviewradar/internal/client"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps server responses: 2 for not found, 3 for conflicts,
// 1 for everything else.
func exitCode(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return 2
		case http.StatusConflict:
			return 3
		}
	}
	return 1
}
