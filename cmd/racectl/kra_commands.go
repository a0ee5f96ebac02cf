package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/race-predictor/internal/app"
	"github.com/vnmchuo/race-predictor/internal/kra"
)

func newKRACommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kra",
		Short: "Query the KRA open data API directly",
	}
	cmd.AddCommand(newKRAScheduleCommand(ctx))
	cmd.AddCommand(newKRAResultsCommand(ctx))
	cmd.AddCommand(newKRAHorseCommand(ctx))
	cmd.AddCommand(newKRAEntriesCommand(ctx))
	return cmd
}

func (c *commandContext) kraClient() (*kra.Client, error) {
	cfg, logger, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return app.NewKRAClient(cfg, logger, c.tracer())
}

func printRaw(cmd *cobra.Command, raw json.RawMessage) error {
	return writeJSON(cmd, raw)
}

func newKRAScheduleCommand(ctx *commandContext) *cobra.Command {
	var (
		date      string
		track     int
		pageNo    int
		numOfRows int
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Fetch the race schedule for a date and track",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag(date, time.Now())
			if err != nil {
				return err
			}
			tracks, err := parseTracks([]int{track})
			if err != nil {
				return err
			}
			client, err := ctx.kraClient()
			if err != nil {
				return err
			}
			raw, err := client.GetRaceSchedule(cmd.Context(), day, tracks[0], pageNo, numOfRows)
			if err != nil {
				return err
			}
			return printRaw(cmd, raw)
		},
	}
	cmd.Flags().StringVar(&date, "date", "today", "Race date")
	cmd.Flags().IntVar(&track, "track", int(kra.TrackSeoul), "Track code")
	cmd.Flags().IntVar(&pageNo, "page", 1, "Page number")
	cmd.Flags().IntVar(&numOfRows, "rows", 10, "Rows per page")
	return cmd
}

func newKRAResultsCommand(ctx *commandContext) *cobra.Command {
	var (
		date      string
		track     int
		raceNo    int
		pageNo    int
		numOfRows int
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Fetch race results for a date and track",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag(date, time.Now())
			if err != nil {
				return err
			}
			tracks, err := parseTracks([]int{track})
			if err != nil {
				return err
			}
			client, err := ctx.kraClient()
			if err != nil {
				return err
			}
			var race *int
			if cmd.Flags().Changed("race") {
				race = &raceNo
			}
			raw, err := client.GetRaceResults(cmd.Context(), day, tracks[0], race, pageNo, numOfRows)
			if err != nil {
				return err
			}
			return printRaw(cmd, raw)
		},
	}
	cmd.Flags().StringVar(&date, "date", "today", "Race date")
	cmd.Flags().IntVar(&track, "track", int(kra.TrackSeoul), "Track code")
	cmd.Flags().IntVar(&raceNo, "race", 0, "Race number (default: all races)")
	cmd.Flags().IntVar(&pageNo, "page", 1, "Page number")
	cmd.Flags().IntVar(&numOfRows, "rows", 10, "Rows per page")
	return cmd
}

func newKRAHorseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "horse <hrNo>",
		Short: "Fetch a horse's registration details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.kraClient()
			if err != nil {
				return err
			}
			raw, err := client.GetHorseInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRaw(cmd, raw)
		},
	}
}

func newKRAEntriesCommand(ctx *commandContext) *cobra.Command {
	var (
		date   string
		track  int
		raceNo int
	)
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Fetch the entry list for one race",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag(date, time.Now())
			if err != nil {
				return err
			}
			tracks, err := parseTracks([]int{track})
			if err != nil {
				return err
			}
			client, err := ctx.kraClient()
			if err != nil {
				return err
			}
			raw, err := client.GetRaceEntries(cmd.Context(), day, tracks[0], raceNo)
			if err != nil {
				return err
			}
			return printRaw(cmd, raw)
		},
	}
	cmd.Flags().StringVar(&date, "date", "today", "Race date")
	cmd.Flags().IntVar(&track, "track", int(kra.TrackSeoul), "Track code")
	cmd.Flags().IntVar(&raceNo, "race", 1, "Race number")
	return cmd
}
