package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/vnmchuo/race-predictor/internal/kra"
)

// parseDateFlag accepts YYYYMMDD, YYYY-MM-DD or "today".
func parseDateFlag(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	case strings.Contains(s, "-"):
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q", s)
		}
		return d, nil
	default:
		return kra.ParseDate(s)
	}
}

func parseTracks(codes []int) ([]kra.Track, error) {
	tracks := make([]kra.Track, 0, len(codes))
	for _, code := range codes {
		t := kra.Track(code)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown track code %d (1=seoul, 2=jeju, 3=busan-gyeongnam)", code)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
