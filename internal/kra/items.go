package kra

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// The portal is loose with scalar types: the same field comes back as 1200,
// "1200", "1,200" or "" depending on the endpoint.

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] != '"' {
		*s = flexString(b)
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = flexString(strings.TrimSpace(v))
	return nil
}

func (s flexString) String() string { return string(s) }

// flexNumber reads numbers and numeric strings. Blanks and placeholders such
// as "-" decode to zero.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*n = 0
	v := strings.ReplaceAll(string(s), ",", "")
	if v == "" || v == "-" {
		return nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*n = flexNumber(f)
	}
	return nil
}

func (n flexNumber) Int() int { return int(n) }

func (n flexNumber) ptr() *float64 {
	if n == 0 {
		return nil
	}
	f := float64(n)
	return &f
}

// raceItem is one row of the race plan endpoint.
type raceItem struct {
	RaceDate   flexString `json:"rcDate"`
	RaceNo     flexNumber `json:"rcNo"`
	Meet       flexString `json:"meet"`
	Distance   flexNumber `json:"rcDist"`
	TrackState flexString `json:"trackStat"`
	Weather    flexString `json:"weather"`
	Name       flexString `json:"rcName"`
	Class      flexString `json:"divSn"`
	Prize1     flexNumber `json:"prize1"`
}

// entryItem is one horse in a race card.
type entryItem struct {
	RaceNo      flexNumber `json:"rcNo"`
	Meet        flexString `json:"meet"`
	HorseNo     flexString `json:"hrNo"`
	HorseRegNo  flexString `json:"hrRegNo"`
	HorseName   flexString `json:"hrName"`
	HorseNameEn flexString `json:"hrNameEn"`
	Sex         flexString `json:"sex"`
	Age         flexNumber `json:"age"`
	Rating      flexString `json:"rating"`
	HorseWeight flexNumber `json:"wgHr"`
	Burden      flexNumber `json:"wgBudam"`
	JockeyNo    flexString `json:"jkNo"`
	JockeyName  flexString `json:"jkName"`
	TrainerNo   flexString `json:"trNo"`
	TrainerName flexString `json:"trName"`
	Position    flexNumber `json:"ord"`
	GateNo      flexNumber `json:"ordNo"`
	RaceTime    flexString `json:"rcTime"`
	Odds        flexNumber `json:"odds"`
}

// resultItem is one finisher in a race result.
type resultItem struct {
	RaceNo    flexNumber `json:"rcNo"`
	Meet      flexString `json:"meet"`
	Position  flexNumber `json:"ord"`
	HorseNo   flexString `json:"hrNo"`
	HorseName flexString `json:"hrName"`
	RaceTime  flexString `json:"rcTime"`
}

// decodeItems decodes each raw item into T and reports how many were skipped.
func decodeItems[T any](items []json.RawMessage) ([]T, int) {
	out := make([]T, 0, len(items))
	skipped := 0
	for _, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped
}

// raceKey groups rows of one day by meet and race number.
type raceKey struct {
	track  Track
	raceNo int
}

func (it raceItem) key(fallback Track) raceKey {
	return raceKey{track: meetTrack(it.Meet.String(), fallback), raceNo: it.RaceNo.Int()}
}

func (it entryItem) key(fallback Track) raceKey {
	return raceKey{track: meetTrack(it.Meet.String(), fallback), raceNo: it.RaceNo.Int()}
}

func (it resultItem) key(fallback Track) raceKey {
	return raceKey{track: meetTrack(it.Meet.String(), fallback), raceNo: it.RaceNo.Int()}
}

// meetTrack maps the meet field, which is either a track code or a Korean
// racecourse name, onto a Track.
func meetTrack(meet string, fallback Track) Track {
	meet = strings.TrimSpace(meet)
	if code, err := strconv.Atoi(meet); err == nil {
		if t := Track(code); t.Valid() {
			return t
		}
		return fallback
	}
	switch {
	case strings.Contains(meet, "서울"):
		return TrackSeoul
	case strings.Contains(meet, "제주"):
		return TrackJeju
	case strings.Contains(meet, "부산"), strings.Contains(meet, "부경"):
		return TrackBusan
	}
	return fallback
}

func (it raceItem) race(track Track, date time.Time) Race {
	if d, err := ParseDate(it.RaceDate.String()); err == nil {
		date = d
	}
	return Race{
		Track:          track,
		RaceDate:       date,
		RaceNo:         it.RaceNo.Int(),
		Name:           it.Name.String(),
		Distance:       it.Distance.Int(),
		Surface:        parseSurface(it.TrackState.String()),
		Weather:        it.Weather.String(),
		TrackCondition: normalizeTrackCondition(it.TrackState.String()),
		Class:          it.Class.String(),
		PrizeMoney:     int64(it.Prize1),
		Status:         RaceScheduled,
	}
}

func (it entryItem) registrationNo() string {
	if it.HorseRegNo != "" {
		return it.HorseRegNo.String()
	}
	return it.HorseNo.String()
}

// horse estimates the foaling date from the listed age when nothing better is
// known.
func (it entryItem) horse(now time.Time) Horse {
	h := Horse{
		RegistrationNo: it.registrationNo(),
		Name:           it.HorseName.String(),
		NameEn:         it.HorseNameEn.String(),
		Gender:         parseGender(it.Sex.String()),
		Rating:         parseRating(it.Rating.String()),
	}
	if age := it.Age.Int(); age > 0 {
		h.BirthDate = time.Date(now.Year()-age, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return h
}

func (it entryItem) entry(raceID, horseID, jockeyID, trainerID int64) RaceEntry {
	e := RaceEntry{
		RaceID:         raceID,
		HorseID:        horseID,
		JockeyID:       jockeyID,
		TrainerID:      trainerID,
		GateNo:         it.gateNo(),
		HorseWeightKg:  it.HorseWeight.ptr(),
		JockeyWeightKg: it.Burden.ptr(),
		Odds:           it.Odds.ptr(),
		FinishTime:     parseFinishTime(it.RaceTime.String()),
	}
	if pos := it.Position.Int(); pos > 0 {
		e.FinishPosition = &pos
	}
	return e
}

// gateNo prefers the explicit gate, then a numeric horse number, then 1.
func (it entryItem) gateNo() int {
	if g := it.GateNo.Int(); g > 0 {
		return g
	}
	if n, err := strconv.Atoi(it.HorseNo.String()); err == nil && n > 0 {
		return n
	}
	return 1
}

func (it resultItem) result() RaceResult {
	return RaceResult{
		HorseNo:    it.HorseNo.String(),
		HorseName:  it.HorseName.String(),
		Position:   it.Position.Int(),
		FinishTime: parseFinishTime(it.RaceTime.String()),
	}
}

func parseGender(sex string) string {
	switch {
	case strings.Contains(sex, "거세"), strings.Contains(strings.ToLower(sex), "gelding"):
		return GenderGelding
	case strings.Contains(sex, "암"), strings.Contains(strings.ToLower(sex), "mare"):
		return GenderMare
	}
	return GenderStallion
}

func parseRating(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64); ferr == nil {
			n = int(f)
		} else {
			return nil
		}
	}
	return &n
}

func parseSurface(trackStat string) string {
	if strings.Contains(trackStat, "잔디") {
		return SurfaceTurf
	}
	return SurfaceDirt
}

func normalizeTrackCondition(trackStat string) string {
	for _, cond := range []string{"불량", "포화", "다습", "건조"} {
		if strings.Contains(trackStat, cond) {
			return cond
		}
	}
	return "양호"
}

// parseFinishTime reads "72.4" or "1:12.4" as seconds.
func parseFinishTime(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	var minutes float64
	if m, rest, ok := strings.Cut(s, ":"); ok {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil
		}
		minutes, s = v, rest
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	total := minutes*60 + secs
	if total <= 0 {
		return nil
	}
	return &total
}
