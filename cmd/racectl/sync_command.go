package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/race-predictor/internal/app"
	"github.com/vnmchuo/race-predictor/internal/kra"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var (
		date   string
		tracks []int
		store  bool
	)

	cmd := &cobra.Command{
		Use:       "sync <schedule|results>",
		Short:     "Pull KRA schedules or results and optionally store snapshots",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(kra.SyncSchedule), string(kra.SyncResults)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kra.ParseSyncKind(args[0])
			if err != nil {
				return err
			}
			day, err := parseDateFlag(date, time.Now())
			if err != nil {
				return err
			}
			selected, err := parseTracks(tracks)
			if err != nil {
				return err
			}

			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := app.NewKRAClient(cfg, logger, ctx.tracer())
			if err != nil {
				return err
			}

			var (
				snapshotStore kra.SnapshotStore
				opts          []kra.SyncOption
			)
			if store {
				pool, err := ctx.openPool(cmd.Context())
				if err != nil {
					return err
				}
				defer pool.Close()
				snapshotStore = kra.NewPostgresSnapshotStore(pool)
				opts = append(opts, kra.WithRaceStore(kra.NewPostgresRaceStore(pool)))
			}

			svc := kra.NewSyncService(client, snapshotStore, logger, opts...)
			snaps, syncErr := svc.SyncDate(cmd.Context(), day, kind, selected)
			for _, s := range snaps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d items", s.Kind, s.Track, kra.FormatDate(s.RaceDate), s.ItemCount)
				if store {
					fmt.Fprintf(cmd.OutOrStdout(), "\t%d races\t%d entries\t%d results\t%d errors",
						s.Stats.Races, s.Stats.Entries, s.Stats.Results, s.Stats.Errors)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return syncErr
		},
	}

	cmd.Flags().StringVar(&date, "date", "today", "Race date (YYYYMMDD or YYYY-MM-DD)")
	cmd.Flags().IntSliceVar(&tracks, "track", nil, "Track codes to sync (default: all)")
	cmd.Flags().BoolVar(&store, "store", false, "Persist snapshots and normalized races to POSTGRES_DSN")
	return cmd
}
