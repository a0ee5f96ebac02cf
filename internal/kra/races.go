package kra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "20060102"

// Track is the racecourse selector understood by the API (rccrs_cd).
type Track int

const (
	TrackSeoul Track = 1
	TrackJeju  Track = 2
	TrackBusan Track = 3
)

func (t Track) String() string {
	switch t {
	case TrackSeoul:
		return "seoul"
	case TrackJeju:
		return "jeju"
	case TrackBusan:
		return "busan-gyeongnam"
	default:
		return fmt.Sprintf("track(%d)", int(t))
	}
}

func (t Track) Valid() bool {
	return t >= TrackSeoul && t <= TrackBusan
}

// AllTracks lists every track in code order.
func AllTracks() []Track {
	return []Track{TrackSeoul, TrackJeju, TrackBusan}
}

// FormatDate renders a date as YYYYMMDD.
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// ParseDate accepts YYYYMMDD.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("kra: invalid date %q: %w", s, err)
	}
	return d, nil
}

// Fetcher is the typed surface of the client.
type Fetcher interface {
	GetRaceSchedule(ctx context.Context, date time.Time, track Track, pageNo, numOfRows int) (json.RawMessage, error)
	GetRaceResults(ctx context.Context, date time.Time, track Track, raceNo *int, pageNo, numOfRows int) (json.RawMessage, error)
	GetHorseInfo(ctx context.Context, hrNo string) (json.RawMessage, error)
	GetRaceEntries(ctx context.Context, date time.Time, track Track, raceNo int) (json.RawMessage, error)
}

var _ Fetcher = (*Client)(nil)

func (c *Client) GetRaceSchedule(ctx context.Context, date time.Time, track Track, pageNo, numOfRows int) (json.RawMessage, error) {
	return c.Request(ctx, c.endpoints.Schedule, Params{
		"rccrs_cd":  int(track),
		"race_dt":   FormatDate(date),
		"pageNo":    pageNo,
		"numOfRows": numOfRows,
	})
}

func (c *Client) GetRaceResults(ctx context.Context, date time.Time, track Track, raceNo *int, pageNo, numOfRows int) (json.RawMessage, error) {
	params := Params{
		"rccrs_cd":  int(track),
		"race_dt":   FormatDate(date),
		"pageNo":    pageNo,
		"numOfRows": numOfRows,
	}
	if raceNo != nil {
		params["race_no"] = *raceNo
	}
	return c.Request(ctx, c.endpoints.Results, params)
}

func (c *Client) GetHorseInfo(ctx context.Context, hrNo string) (json.RawMessage, error) {
	return c.Request(ctx, c.endpoints.Horse, Params{"hrNo": hrNo})
}

func (c *Client) GetRaceEntries(ctx context.Context, date time.Time, track Track, raceNo int) (json.RawMessage, error) {
	return c.Request(ctx, c.endpoints.Entries, Params{
		"rccrs_cd": int(track),
		"race_dt":  FormatDate(date),
		"race_no":  raceNo,
	})
}
