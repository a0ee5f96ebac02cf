package prediction

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vnmchuo/race-predictor/internal/kra"
)

const (
	recentStartsLimit = 5
	jockeyFormLimit   = 5
)

// RaceSource reads the normalized race tables.
type RaceSource interface {
	Race(ctx context.Context, id int64) (*kra.Race, error)
	RaceEntries(ctx context.Context, raceID int64) ([]kra.EntryDetail, error)
	RecentStarts(ctx context.Context, horseID int64, before time.Time, limit int) ([]kra.PastStart, error)
	DistanceRecord(ctx context.Context, horseID int64, distance int) (starts, wins int, err error)
	JockeyForm(ctx context.Context, jockeyID int64, limit int) ([]int, error)
}

// RaceContext is the model input built from stored race data.
type RaceContext struct {
	RaceInfo RaceInfo       `json:"race_info"`
	Entries  []EntryContext `json:"entries"`
}

type RaceInfo struct {
	Date           string `json:"date"`
	RaceNumber     int    `json:"race_number"`
	Track          string `json:"track"`
	Distance       int    `json:"distance"`
	Surface        string `json:"surface"`
	Weather        string `json:"weather,omitempty"`
	TrackCondition string `json:"track_condition,omitempty"`
	RaceClass      string `json:"race_class,omitempty"`
	TotalEntries   int    `json:"total_entries"`
}

type EntryContext struct {
	GateNumber  int            `json:"gate_number"`
	Horse       HorseContext   `json:"horse"`
	Jockey      JockeyContext  `json:"jockey"`
	Trainer     TrainerContext `json:"trainer"`
	CurrentInfo CurrentInfo    `json:"current_info"`
}

type HorseContext struct {
	RegistrationNumber string         `json:"registration_number"`
	Name               string         `json:"name"`
	Age                int            `json:"age"`
	Gender             string         `json:"gender"`
	Rating             *int           `json:"rating,omitempty"`
	RecentRaces        []RecentRace   `json:"recent_races"`
	TotalStats         TotalStats     `json:"total_stats"`
	DistanceStats      *DistanceStats `json:"distance_stats,omitempty"`
}

type RecentRace struct {
	Date        string   `json:"date"`
	Position    *int     `json:"position,omitempty"`
	TotalHorses int      `json:"total_horses"`
	Distance    int      `json:"distance"`
	Time        *float64 `json:"time,omitempty"`
}

type TotalStats struct {
	Races    int     `json:"races"`
	Wins     int     `json:"wins"`
	Places   int     `json:"places"`
	Shows    int     `json:"shows"`
	WinRate  float64 `json:"win_rate"`
	Earnings string  `json:"earnings"`
}

type DistanceStats struct {
	RacesAtDistance int     `json:"races_at_distance"`
	WinsAtDistance  int     `json:"wins_at_distance"`
	WinRate         float64 `json:"win_rate"`
}

type JockeyContext struct {
	License    string  `json:"license"`
	Name       string  `json:"name"`
	TotalRaces int     `json:"total_races"`
	TotalWins  int     `json:"total_wins"`
	WinRate    float64 `json:"win_rate"`
	PlaceRate  float64 `json:"place_rate"`
	RecentForm []int   `json:"recent_form"`
}

type TrainerContext struct {
	License    string  `json:"license"`
	Name       string  `json:"name"`
	Stable     string  `json:"stable,omitempty"`
	TotalRaces int     `json:"total_races"`
	TotalWins  int     `json:"total_wins"`
	WinRate    float64 `json:"win_rate"`
}

type CurrentInfo struct {
	HorseWeight  *float64 `json:"horse_weight,omitempty"`
	JockeyWeight *float64 `json:"jockey_weight,omitempty"`
	Odds         *float64 `json:"odds,omitempty"`
}

type ContextBuilder struct {
	src RaceSource
	now func() time.Time
}

func NewContextBuilder(src RaceSource) *ContextBuilder {
	return &ContextBuilder{src: src, now: time.Now}
}

// Build assembles the context for a stored race. It returns
// kra.ErrRaceNotFound when the race does not exist.
func (b *ContextBuilder) Build(ctx context.Context, raceID int64) (*RaceContext, error) {
	race, err := b.src.Race(ctx, raceID)
	if err != nil {
		return nil, err
	}
	entries, err := b.src.RaceEntries(ctx, raceID)
	if err != nil {
		return nil, err
	}

	rc := &RaceContext{
		RaceInfo: RaceInfo{
			Date:           race.RaceDate.Format("2006-01-02"),
			RaceNumber:     race.RaceNo,
			Track:          race.TrackName,
			Distance:       race.Distance,
			Surface:        race.Surface,
			Weather:        race.Weather,
			TrackCondition: race.TrackCondition,
			RaceClass:      race.Class,
			TotalEntries:   len(entries),
		},
		Entries: make([]EntryContext, 0, len(entries)),
	}

	for _, d := range entries {
		entry, err := b.entryContext(ctx, race, d)
		if err != nil {
			return nil, fmt.Errorf("build context for gate %d: %w", d.Entry.GateNo, err)
		}
		rc.Entries = append(rc.Entries, entry)
	}
	return rc, nil
}

func (b *ContextBuilder) entryContext(ctx context.Context, race *kra.Race, d kra.EntryDetail) (EntryContext, error) {
	starts, err := b.src.RecentStarts(ctx, d.Horse.ID, race.RaceDate, recentStartsLimit)
	if err != nil {
		return EntryContext{}, err
	}
	atDistance, winsAtDistance, err := b.src.DistanceRecord(ctx, d.Horse.ID, race.Distance)
	if err != nil {
		return EntryContext{}, err
	}
	form, err := b.src.JockeyForm(ctx, d.Jockey.ID, jockeyFormLimit)
	if err != nil {
		return EntryContext{}, err
	}

	recent := make([]RecentRace, 0, len(starts))
	for _, s := range starts {
		recent = append(recent, RecentRace{
			Date:        s.RaceDate.Format("2006-01-02"),
			Position:    s.Position,
			TotalHorses: s.Starters,
			Distance:    s.Distance,
			Time:        s.FinishTime,
		})
	}
	if form == nil {
		form = []int{}
	}

	h := d.Horse
	horse := HorseContext{
		RegistrationNumber: h.RegistrationNo,
		Name:               h.Name,
		Age:                ageOn(h.BirthDate, b.now()),
		Gender:             genderLabel(h.Gender),
		Rating:             h.Rating,
		RecentRaces:        recent,
		TotalStats: TotalStats{
			Races:    h.TotalRaces,
			Wins:     h.TotalWins,
			Places:   h.TotalPlaces,
			Shows:    h.TotalShows,
			WinRate:  ratio(h.TotalWins, h.TotalRaces),
			Earnings: strconv.FormatInt(h.TotalEarnings, 10),
		},
	}
	if atDistance > 0 {
		horse.DistanceStats = &DistanceStats{
			RacesAtDistance: atDistance,
			WinsAtDistance:  winsAtDistance,
			WinRate:         ratio(winsAtDistance, atDistance),
		}
	}

	return EntryContext{
		GateNumber: d.Entry.GateNo,
		Horse:      horse,
		Jockey: JockeyContext{
			License:    d.Jockey.LicenseNo,
			Name:       d.Jockey.Name,
			TotalRaces: d.Jockey.TotalRaces,
			TotalWins:  d.Jockey.TotalWins,
			WinRate:    d.Jockey.WinRate,
			PlaceRate:  d.Jockey.PlaceRate,
			RecentForm: form,
		},
		Trainer: TrainerContext{
			License:    d.Trainer.LicenseNo,
			Name:       d.Trainer.Name,
			Stable:     d.Trainer.Stable,
			TotalRaces: d.Trainer.TotalRaces,
			TotalWins:  d.Trainer.TotalWins,
			WinRate:    d.Trainer.WinRate,
		},
		CurrentInfo: CurrentInfo{
			HorseWeight:  d.Entry.HorseWeightKg,
			JockeyWeight: d.Entry.JockeyWeightKg,
			Odds:         d.Entry.Odds,
		},
	}, nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func ageOn(birth, now time.Time) int {
	if birth.IsZero() {
		return 0
	}
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

func genderLabel(g string) string {
	switch g {
	case kra.GenderStallion:
		return "수말"
	case kra.GenderMare:
		return "암말"
	case kra.GenderGelding:
		return "거세마"
	}
	return g
}

const (
	minEntries      = 2
	maxEntries      = 20
	minRaceDistance = 1000
)

// Validation reports whether a context is fit to send to the model. Warnings
// never block a prediction.
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func ValidateRaceContext(rc *RaceContext) Validation {
	v := Validation{Valid: true}
	fail := func(msg string) {
		v.Valid = false
		v.Errors = append(v.Errors, msg)
	}

	if len(rc.Entries) < minEntries {
		fail(fmt.Sprintf("race has fewer than %d entries", minEntries))
	}
	if len(rc.Entries) > maxEntries {
		v.Warnings = append(v.Warnings, fmt.Sprintf("race has more than %d entries", maxEntries))
	}
	if rc.RaceInfo.Distance < minRaceDistance {
		v.Warnings = append(v.Warnings, "race distance looks wrong")
	}

	seen := make(map[int]bool, len(rc.Entries))
	var dup []int
	for _, e := range rc.Entries {
		if seen[e.GateNumber] {
			dup = append(dup, e.GateNumber)
		}
		seen[e.GateNumber] = true
	}
	if len(dup) > 0 {
		sort.Ints(dup)
		gates := make([]string, len(dup))
		for i, g := range dup {
			gates[i] = strconv.Itoa(g)
		}
		fail("duplicate gate numbers: " + strings.Join(gates, ", "))
	}
	return v
}
