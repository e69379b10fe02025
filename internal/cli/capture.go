package cli

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Store session credentials read from request header lines on stdin",
		Long: `Reads "Name: value" header lines (as copied from a browser request to the
bookmarks endpoint) and stores authorization, cookie and x-csrf-token.
Captures within 30 minutes of the previous one are ignored.`,
		RunE: runCapture,
	}

	RootCmd.AddCommand(cmd)
}

// parseHeaderLines reads "Name: value" lines. Blank lines and lines without
// a colon are skipped.
func parseHeaderLines(r io.Reader) (http.Header, error) {
	headers := make(http.Header)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		headers.Set(name, strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read headers: %w", err)
	}
	return headers, nil
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	headers, err := parseHeaderLines(cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	captured, err := a.credentials.Capture(ctx, headers)
	if err != nil {
		return err
	}

	if captured {
		fmt.Fprintln(cmd.OutOrStdout(), "credentials captured")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "credentials unchanged (incomplete headers or captured recently)")
	}
	return nil
}
