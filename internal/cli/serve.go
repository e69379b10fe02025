package cli

import (
	"github.com/Sternrassler/bookmark-importer/internal/server"
	"github.com/Sternrassler/bookmark-importer/pkg/logging"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the import trigger, event stream and collection over HTTP",
		RunE:  runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: http.addr from config)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.HTTP.Addr
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Options{
		Importer:        a.importer,
		Store:           a.store,
		Broker:          a.broker,
		Capturer:        a.credentials,
		Logger:          logging.NewLogger("server"),
		RunContext:      ctx,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})
	err = srv.ListenAndServe(ctx, addr)

	// A triggered run may still be writing; let it finish before the Redis
	// client is closed.
	a.importer.Wait()
	return err
}
