// Package transform maps upstream Strava activity payloads to canonical
// activity records. Everything here is pure: the same payload always yields
// the same record, which is what makes re-transformation from the raw archive
// safe.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidPayload is returned for payloads that cannot be mapped
var ErrInvalidPayload = errors.New("invalid activity payload")

// Activity is the canonical, unit-normalized representation of an activity.
// Distances are miles, elevations feet, speeds mph, temperatures °F.
type Activity struct {
	ID                     int64
	AthleteID              int64
	Name                   string
	ActivityType           string
	StartDate              *time.Time
	DistanceMiles          *float64
	MovingTime             *int
	ElapsedTime            *int
	TotalElevationGainFeet *float64
	ElevationHighFeet      *float64
	ElevationLowFeet       *float64
	AverageSpeedMPH        *float64
	MaxSpeedMPH            *float64
	AverageCadence         *float64
	AverageTemperatureF    *float64
	AverageWatts           *float64
	MaxWatts               *float64
	WeightedAverageWatts   *float64
	Kilojoules             *float64
	DeviceWatts            *bool
	AverageHeartRate       *float64
	MaxHeartRate           *float64
	SufferScore            int
	AchievementCount       *int
	PRCount                *int
	Trainer                bool
	Commute                bool
	GearID                 *string

	// Derived from SegmentEfforts
	KOMCount    int
	BestKOMRank *int
	BestPRRank  *int

	SegmentEfforts []SegmentEffort
}

// SegmentEffort is one route-segment effort embedded in an activity
type SegmentEffort struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	SegmentID     *int64          `json:"segmentId"`
	SegmentName   *string         `json:"segmentName"`
	KOMRank       *int            `json:"komRank"`
	PRRank        *int            `json:"prRank"`
	Achievements  json.RawMessage `json:"achievements"`
	ElapsedTime   *int            `json:"elapsedTime"`
	MovingTime    *int            `json:"movingTime"`
	DistanceMiles *float64        `json:"distance"`
	StartIndex    *int            `json:"startIndex"`
	EndIndex      *int            `json:"endIndex"`
}

// RawRecord is the immutable archive of the exact upstream payload
type RawRecord struct {
	ActivityID int64
	Payload    json.RawMessage
}

// SegmentEffortsJSON returns the efforts serialized for storage
func (a *Activity) SegmentEffortsJSON() (string, error) {
	efforts := a.SegmentEfforts
	if efforts == nil {
		efforts = []SegmentEffort{}
	}
	b, err := json.Marshal(efforts)
	if err != nil {
		return "", fmt.Errorf("failed to marshal segment efforts: %w", err)
	}
	return string(b), nil
}

type upstreamActivity struct {
	ID      int64 `json:"id"`
	Athlete *struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
	AthleteID            *int64           `json:"athlete_id"`
	Name                 string           `json:"name"`
	Type                 string           `json:"type"`
	StartDate            string           `json:"start_date"`
	StartDateLocal       string           `json:"start_date_local"`
	Distance             *float64         `json:"distance"`
	MovingTime           *int             `json:"moving_time"`
	ElapsedTime          *int             `json:"elapsed_time"`
	TotalElevationGain   *float64         `json:"total_elevation_gain"`
	ElevHigh             *float64         `json:"elev_high"`
	ElevLow              *float64         `json:"elev_low"`
	AverageSpeed         *float64         `json:"average_speed"`
	MaxSpeed             *float64         `json:"max_speed"`
	AverageCadence       *float64         `json:"average_cadence"`
	AverageTemp          *float64         `json:"average_temp"`
	AverageWatts         *float64         `json:"average_watts"`
	MaxWatts             *float64         `json:"max_watts"`
	WeightedAverageWatts *float64         `json:"weighted_average_watts"`
	Kilojoules           *float64         `json:"kilojoules"`
	DeviceWatts          *bool            `json:"device_watts"`
	AverageHeartrate     *float64         `json:"average_heartrate"`
	MaxHeartrate         *float64         `json:"max_heartrate"`
	SufferScore          *float64         `json:"suffer_score"`
	AchievementCount     *int             `json:"achievement_count"`
	PRCount              *int             `json:"pr_count"`
	Trainer              bool             `json:"trainer"`
	Commute              bool             `json:"commute"`
	GearID               *string          `json:"gear_id"`
	SegmentEfforts       []upstreamEffort `json:"segment_efforts"`
}

type upstreamEffort struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Segment *struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"segment"`
	KOMRank      *int            `json:"kom_rank"`
	PRRank       *int            `json:"pr_rank"`
	Achievements json.RawMessage `json:"achievements"`
	ElapsedTime  *int            `json:"elapsed_time"`
	MovingTime   *int            `json:"moving_time"`
	Distance     *float64        `json:"distance"`
	StartIndex   *int            `json:"start_index"`
	EndIndex     *int            `json:"end_index"`
}

// Transform maps one upstream detail payload to its canonical record and raw
// archive. It has no side effects.
func Transform(payload json.RawMessage) (*Activity, *RawRecord, error) {
	var src upstreamActivity
	if err := json.Unmarshal(payload, &src); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if src.ID == 0 {
		return nil, nil, fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}

	athleteID := int64(0)
	if src.Athlete != nil {
		athleteID = src.Athlete.ID
	}
	if athleteID == 0 && src.AthleteID != nil {
		athleteID = *src.AthleteID
	}
	if athleteID == 0 {
		return nil, nil, fmt.Errorf("%w: activity %d has no athlete id", ErrInvalidPayload, src.ID)
	}

	efforts := transformEfforts(src.SegmentEfforts)

	activity := &Activity{
		ID:                     src.ID,
		AthleteID:              athleteID,
		Name:                   src.Name,
		ActivityType:           src.Type,
		StartDate:              parseStartDate(src.StartDateLocal, src.StartDate),
		DistanceMiles:          convert(src.Distance, MetersToMiles),
		MovingTime:             src.MovingTime,
		ElapsedTime:            src.ElapsedTime,
		TotalElevationGainFeet: convert(src.TotalElevationGain, MetersToFeet),
		ElevationHighFeet:      convert(src.ElevHigh, MetersToFeet),
		ElevationLowFeet:       convert(src.ElevLow, MetersToFeet),
		AverageSpeedMPH:        convert(src.AverageSpeed, MPSToMPH),
		MaxSpeedMPH:            convert(src.MaxSpeed, MPSToMPH),
		AverageCadence:         src.AverageCadence,
		AverageTemperatureF:    convert(src.AverageTemp, CelsiusToFahrenheit),
		AverageWatts:           src.AverageWatts,
		MaxWatts:               src.MaxWatts,
		WeightedAverageWatts:   src.WeightedAverageWatts,
		Kilojoules:             src.Kilojoules,
		DeviceWatts:            src.DeviceWatts,
		AverageHeartRate:       src.AverageHeartrate,
		MaxHeartRate:           src.MaxHeartrate,
		AchievementCount:       src.AchievementCount,
		PRCount:                src.PRCount,
		Trainer:                src.Trainer,
		Commute:                src.Commute,
		GearID:                 src.GearID,
		SegmentEfforts:         efforts,
	}

	if src.SufferScore != nil {
		activity.SufferScore = int(math.Round(*src.SufferScore))
	}

	activity.KOMCount, activity.BestKOMRank, activity.BestPRRank = aggregateAchievements(efforts)

	raw := &RawRecord{
		ActivityID: src.ID,
		Payload:    append(json.RawMessage(nil), payload...),
	}

	return activity, raw, nil
}

func transformEfforts(src []upstreamEffort) []SegmentEffort {
	efforts := make([]SegmentEffort, 0, len(src))
	for _, e := range src {
		effort := SegmentEffort{
			ID:            e.ID,
			Name:          e.Name,
			KOMRank:       e.KOMRank,
			PRRank:        e.PRRank,
			Achievements:  e.Achievements,
			ElapsedTime:   e.ElapsedTime,
			MovingTime:    e.MovingTime,
			DistanceMiles: convert(e.Distance, MetersToMiles),
			StartIndex:    e.StartIndex,
			EndIndex:      e.EndIndex,
		}
		if e.Segment != nil {
			id, name := e.Segment.ID, e.Segment.Name
			effort.SegmentID = &id
			effort.SegmentName = &name
		}
		if len(effort.Achievements) == 0 || string(effort.Achievements) == "null" {
			effort.Achievements = json.RawMessage("[]")
		}
		efforts = append(efforts, effort)
	}
	return efforts
}

// aggregateAchievements counts efforts with a KOM rank and finds the best
// (lowest) KOM and PR ranks. Ranks are nil when no effort carries one.
func aggregateAchievements(efforts []SegmentEffort) (komCount int, bestKOM, bestPR *int) {
	for _, e := range efforts {
		if e.KOMRank != nil {
			komCount++
			if bestKOM == nil || *e.KOMRank < *bestKOM {
				rank := *e.KOMRank
				bestKOM = &rank
			}
		}
		if e.PRRank != nil {
			if bestPR == nil || *e.PRRank < *bestPR {
				rank := *e.PRRank
				bestPR = &rank
			}
		}
	}
	return komCount, bestKOM, bestPR
}

// parseStartDate prefers the athlete-local wall clock time, stored without
// zone conversion, and falls back to the UTC start date.
func parseStartDate(local, utc string) *time.Time {
	if local != "" {
		if t, err := time.Parse("2006-01-02T15:04:05", strings.TrimSuffix(local, "Z")); err == nil {
			return &t
		}
	}
	if utc != "" {
		if t, err := time.Parse(time.RFC3339, utc); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
