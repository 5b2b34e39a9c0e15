package lookup

import (
	"math"

	"github.com/streamguard/streamguard/internal/facts"
)

// Enrichment thresholds.
const (
	RushedSessionSeconds = 60
	AnomalousDistanceKm  = 50.0
	HighVelocityPerHour  = 5
	earthRadiusKm        = 6371.0
	unusualHourStart     = 23
	unusualHourEnd       = 6
)

// Keys used in SessionContext maps.
const (
	MetricTypingCadence   = "typing_cadence"
	MetricSessionDuration = "session_duration_sec"
	MetricRushed          = "rushed"

	DeviceBatteryLevel = "battery_level"
	DeviceIsRooted     = "is_rooted"
	DeviceOSRisk       = "os_risk"
	DeviceOS           = "device_os"

	SignalVelocity          = "velocity_last_hour"
	SignalTimeOfDayRisk     = "time_of_day_risk"
	SignalDistanceKm        = "geolocation_distance_km"
	SignalDistanceAnomalous = "geolocation_anomalous"
)

// Enrich turns a stored session into the SessionContext handed to the
// investigation, deriving behavioural, device and risk signals.
func Enrich(rec *SessionRecord) facts.SessionContext {
	sc := facts.SessionContext{
		TransactionID:     rec.TransactionID,
		UserID:            rec.UserID,
		SessionID:         rec.SessionID,
		IsCallActive:      rec.IsCallActive,
		BehavioralMetrics: map[string]any{},
		DeviceContext:     map[string]any{},
		RiskSignals:       map[string]any{},
	}

	if rec.TypingCadence != nil {
		sc.BehavioralMetrics[MetricTypingCadence] = *rec.TypingCadence
	}
	if rec.DurationSeconds != nil {
		sc.BehavioralMetrics[MetricSessionDuration] = *rec.DurationSeconds
		sc.BehavioralMetrics[MetricRushed] = *rec.DurationSeconds < RushedSessionSeconds
	}

	if rec.BatteryLevel != nil {
		sc.DeviceContext[DeviceBatteryLevel] = *rec.BatteryLevel
	}
	if rec.DeviceOS != "" {
		sc.DeviceContext[DeviceOS] = rec.DeviceOS
	}
	sc.DeviceContext[DeviceIsRooted] = rec.IsRooted
	sc.DeviceContext[DeviceOSRisk] = string(osRisk(rec.IsRooted))

	sc.RiskSignals[SignalVelocity] = rec.VelocityLastHour
	if !rec.CreatedAt.IsZero() {
		sc.RiskSignals[SignalTimeOfDayRisk] = string(timeOfDayRisk(rec.CreatedAt.UTC().Hour()))
	}
	if d, ok := DistanceFromHome(rec); ok {
		sc.RiskSignals[SignalDistanceKm] = math.Round(d*10) / 10
		sc.RiskSignals[SignalDistanceAnomalous] = d > AnomalousDistanceKm
	}
	return sc
}

func osRisk(rooted bool) facts.RiskLevel {
	if rooted {
		return facts.RiskHigh
	}
	return facts.RiskLow
}

func timeOfDayRisk(hour int) facts.RiskLevel {
	if hour < unusualHourEnd || hour >= unusualHourStart {
		return facts.RiskHigh
	}
	return facts.RiskLow
}

// DistanceFromHome returns the great-circle distance between the session
// location and the user's home, if both are known.
func DistanceFromHome(rec *SessionRecord) (float64, bool) {
	if rec.Latitude == nil || rec.Longitude == nil || rec.HomeLatitude == nil || rec.HomeLongitude == nil {
		return 0, false
	}
	return haversine(*rec.HomeLatitude, *rec.HomeLongitude, *rec.Latitude, *rec.Longitude), true
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
