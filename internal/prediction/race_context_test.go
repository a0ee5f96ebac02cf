package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/race-predictor/internal/kra"
)

type mockRaceSource struct {
	race      *kra.Race
	entries   []kra.EntryDetail
	starts    map[int64][]kra.PastStart
	distance  map[int64][2]int
	form      map[int64][]int
	startsErr error
	gotBefore time.Time
}

func (m *mockRaceSource) Race(ctx context.Context, id int64) (*kra.Race, error) {
	if m.race == nil || m.race.ID != id {
		return nil, kra.ErrRaceNotFound
	}
	return m.race, nil
}

func (m *mockRaceSource) RaceEntries(ctx context.Context, raceID int64) ([]kra.EntryDetail, error) {
	return m.entries, nil
}

func (m *mockRaceSource) RecentStarts(ctx context.Context, horseID int64, before time.Time, limit int) ([]kra.PastStart, error) {
	m.gotBefore = before
	return m.starts[horseID], m.startsErr
}

func (m *mockRaceSource) DistanceRecord(ctx context.Context, horseID int64, distance int) (int, int, error) {
	r := m.distance[horseID]
	return r[0], r[1], nil
}

func (m *mockRaceSource) JockeyForm(ctx context.Context, jockeyID int64, limit int) ([]int, error) {
	return m.form[jockeyID], nil
}

func sampleRaceSource() *mockRaceSource {
	raceDate := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rating := 55
	odds := 4.2
	pos := 2
	return &mockRaceSource{
		race: &kra.Race{
			ID: 101, Track: kra.TrackSeoul, TrackName: "서울경마공원", RaceDate: raceDate, RaceNo: 3,
			Distance: 1200, Surface: kra.SurfaceDirt, Weather: "맑음", TrackCondition: "건조",
		},
		entries: []kra.EntryDetail{
			{
				Entry:   kra.RaceEntry{GateNo: 1, Odds: &odds},
				Horse:   kra.Horse{ID: 21, RegistrationNo: "0041234", Name: "번개", Gender: kra.GenderGelding, Rating: &rating, BirthDate: time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC), TotalRaces: 10, TotalWins: 3, TotalEarnings: 150000000},
				Jockey:  kra.Jockey{ID: 31, LicenseNo: "080123", Name: "김기수", WinRate: 0.15},
				Trainer: kra.Trainer{ID: 41, LicenseNo: "070011", Name: "박조교"},
			},
			{
				Entry:   kra.RaceEntry{GateNo: 2},
				Horse:   kra.Horse{ID: 22, RegistrationNo: "0040001", Name: "질풍", Gender: kra.GenderMare},
				Jockey:  kra.Jockey{ID: 32, LicenseNo: "080999", Name: "이기수"},
				Trainer: kra.Trainer{ID: 41, LicenseNo: "070011", Name: "박조교"},
			},
		},
		starts: map[int64][]kra.PastStart{
			21: {{RaceDate: raceDate.AddDate(0, 0, -14), Distance: 1200, Position: &pos, Starters: 11}},
		},
		distance: map[int64][2]int{21: {4, 1}},
		form:     map[int64][]int{31: {1, 3, 2}},
	}
}

func TestContextBuilder_Build(t *testing.T) {
	src := sampleRaceSource()
	b := NewContextBuilder(src)
	b.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	rc, err := b.Build(context.Background(), 101)
	require.NoError(t, err)

	assert.Equal(t, RaceInfo{
		Date: "2024-06-01", RaceNumber: 3, Track: "서울경마공원", Distance: 1200,
		Surface: kra.SurfaceDirt, Weather: "맑음", TrackCondition: "건조", TotalEntries: 2,
	}, rc.RaceInfo)
	assert.Equal(t, src.race.RaceDate, src.gotBefore)
	require.Len(t, rc.Entries, 2)

	first := rc.Entries[0]
	assert.Equal(t, 1, first.GateNumber)
	assert.Equal(t, 3, first.Horse.Age)
	assert.Equal(t, "거세마", first.Horse.Gender)
	assert.InDelta(t, 0.3, first.Horse.TotalStats.WinRate, 1e-9)
	assert.Equal(t, "150000000", first.Horse.TotalStats.Earnings)
	require.Len(t, first.Horse.RecentRaces, 1)
	assert.Equal(t, "2024-05-18", first.Horse.RecentRaces[0].Date)
	assert.Equal(t, 11, first.Horse.RecentRaces[0].TotalHorses)
	require.NotNil(t, first.Horse.DistanceStats)
	assert.InDelta(t, 0.25, first.Horse.DistanceStats.WinRate, 1e-9)
	assert.Equal(t, []int{1, 3, 2}, first.Jockey.RecentForm)
	assert.Equal(t, 4.2, *first.CurrentInfo.Odds)

	second := rc.Entries[1]
	assert.Zero(t, second.Horse.Age)
	assert.Nil(t, second.Horse.DistanceStats)
	assert.Empty(t, second.Horse.RecentRaces)
	assert.NotNil(t, second.Jockey.RecentForm)

	// the context is what the prompt carries
	encoded, err := json.Marshal(rc)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"race_info":{"date":"2024-06-01"`)
	assert.NotContains(t, string(encoded), `"distance_stats":null`)
	assert.Contains(t, string(encoded), `"recent_races":[]`)

	prompt, err := BuildPrompt(rc, KindWin, "")
	require.NoError(t, err)
	assert.Contains(t, prompt, "번개")
}

func TestContextBuilder_Errors(t *testing.T) {
	src := sampleRaceSource()
	_, err := NewContextBuilder(src).Build(context.Background(), 999)
	assert.ErrorIs(t, err, kra.ErrRaceNotFound)

	src.startsErr = errors.New("conn reset")
	_, err = NewContextBuilder(src).Build(context.Background(), 101)
	assert.ErrorContains(t, err, "gate 1")
	assert.ErrorContains(t, err, "conn reset")
}

func TestValidateRaceContext(t *testing.T) {
	rc := &RaceContext{RaceInfo: RaceInfo{Distance: 1200}, Entries: []EntryContext{{GateNumber: 1}, {GateNumber: 2}}}
	v := ValidateRaceContext(rc)
	assert.True(t, v.Valid)
	assert.Empty(t, v.Errors)
	assert.Empty(t, v.Warnings)

	v = ValidateRaceContext(&RaceContext{RaceInfo: RaceInfo{Distance: 1200}, Entries: []EntryContext{{GateNumber: 1}}})
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"race has fewer than 2 entries"}, v.Errors)

	dup := &RaceContext{RaceInfo: RaceInfo{Distance: 800}}
	for _, g := range []int{4, 1, 4, 2, 1} {
		dup.Entries = append(dup.Entries, EntryContext{GateNumber: g})
	}
	v = ValidateRaceContext(dup)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"duplicate gate numbers: 1, 4"}, v.Errors)
	assert.Equal(t, []string{"race distance looks wrong"}, v.Warnings)

	big := &RaceContext{RaceInfo: RaceInfo{Distance: 1800}}
	for g := 1; g <= 21; g++ {
		big.Entries = append(big.Entries, EntryContext{GateNumber: g})
	}
	v = ValidateRaceContext(big)
	assert.True(t, v.Valid)
	assert.Equal(t, []string{"race has more than 20 entries"}, v.Warnings)
}
