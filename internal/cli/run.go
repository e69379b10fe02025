package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Sternrassler/bookmark-importer/pkg/notify"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one import in the foreground and print its progress",
		RunE:  runImport,
	}

	cmd.Flags().Bool("keep", false, "Keep the existing collection instead of clearing it first")

	RootCmd.AddCommand(cmd)
}

// eventPrinter writes events as text lines.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) Publish(_ context.Context, event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Kind {
	case notify.KindDone:
		fmt.Fprintf(p.w, "done: %d bookmarks imported\n", event.TotalImported)
	default:
		fmt.Fprintln(p.w, event.Text)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	keep, _ := cmd.Flags().GetBool("keep")

	runCfg := cfg
	if keep {
		runCfg.Import.ClearOnStart = false
	}

	a, err := newApp(ctx, runCfg, &eventPrinter{w: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.importer.Start(ctx)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	if result.NotReady {
		return errors.New("credentials not captured yet; run the capture command first")
	}
	return nil
}
