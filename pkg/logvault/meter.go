package logvault

import "time"

// Meter thresholds, in distinct engaged days within the trailing window.
const (
	meterWindowDays = 90

	milestoneD7  = 7
	milestoneD30 = 30
	milestoneD90 = 90
)

// Zone labels are product copy and intentionally kept verbatim.
const (
	zoneShortSprout  = "芽吹き"
	zoneShortGrowing = "育ち"
	zoneShortClear   = "澄み"

	zoneLongPiling    = "積もり"
	zoneLongDeepening = "深まり"
	zoneLongCrystal   = "結晶"
)

type Milestones struct {
	D7  bool `json:"d7"`
	D30 bool `json:"d30"`
	D90 bool `json:"d90"`
}

// MeterState is the 90-day rolling engagement summary.
type MeterState struct {
	Days90     int        `json:"days90"`
	Fill01     float64    `json:"fill01"`
	Level      int        `json:"level"`
	ZoneShort  string     `json:"zone_short"`
	ZoneLong   string     `json:"zone_long"`
	Milestones Milestones `json:"milestones"`
}

// DefaultZone is the meter's reference timezone when none is supplied.
// A fixed offset avoids a tzdata dependency on stripped hosts.
var DefaultZone = time.FixedZone("Asia/Tokyo", 9*60*60)

// ComputeMeterState derives the engagement summary from a log list:
// distinct local calendar days with at least one entry in the trailing
// 90 days. Pure; storage and clock are the caller's concern.
func ComputeMeterState(logs []Entry, now int64, loc *time.Location) MeterState {
	if loc == nil {
		loc = DefaultZone
	}
	cutoff := now - int64(meterWindowDays)*dayMs

	daySet := make(map[string]struct{})
	for _, entry := range logs {
		if entry.Timestamp < cutoff || entry.Timestamp > now {
			continue
		}
		dayKey := entry.DayKey
		if dayKey == "" {
			dayKey = time.UnixMilli(entry.Timestamp).In(loc).Format("2006-01-02")
		}
		daySet[dayKey] = struct{}{}
	}
	days := len(daySet)

	level := 0
	switch {
	case days >= milestoneD90:
		level = 3
	case days >= milestoneD30:
		level = 2
	case days >= milestoneD7:
		level = 1
	}

	zoneShort := zoneShortSprout
	if days >= milestoneD30 {
		zoneShort = zoneShortClear
	} else if days >= milestoneD7 {
		zoneShort = zoneShortGrowing
	}

	zoneLong := zoneLongPiling
	if days >= milestoneD90 {
		zoneLong = zoneLongCrystal
	} else if days >= milestoneD30 {
		zoneLong = zoneLongDeepening
	}

	fill := float64(days) / float64(meterWindowDays)
	if fill > 1 {
		fill = 1
	}

	return MeterState{
		Days90:    days,
		Fill01:    fill,
		Level:     level,
		ZoneShort: zoneShort,
		ZoneLong:  zoneLong,
		Milestones: Milestones{
			D7:  days >= milestoneD7,
			D30: days >= milestoneD30,
			D90: days >= milestoneD90,
		},
	}
}
