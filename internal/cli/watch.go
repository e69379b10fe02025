package cli

import (
	"context"
	"errors"

	"github.com/Sternrassler/bookmark-importer/pkg/notify"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print import events published by any importer process",
		RunE:  runWatch,
	}

	cmd.Flags().Bool("until-done", false, "Exit after the first done event")

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	untilDone, _ := cmd.Flags().GetBool("until-done")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	printer := &eventPrinter{w: cmd.OutOrStdout()}
	err := notify.Listen(ctx, rdb, notify.DefaultChannel, func(event notify.Event) {
		printer.Publish(ctx, event)
		if untilDone && event.Kind == notify.KindDone {
			cancel()
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
