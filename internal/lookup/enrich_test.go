package lookup

import (
	"testing"
	"time"
)

func TestEnrich_Signals(t *testing.T) {
	rec := &SessionRecord{
		TransactionID:    "t1",
		UserID:           "u1",
		TypingCadence:    floatPtr(0.95),
		DurationSeconds:  intPtr(59),
		IsRooted:         true,
		BatteryLevel:     intPtr(7),
		DeviceOS:         "Android 11",
		CreatedAt:        time.Date(2026, 2, 1, 23, 30, 0, 0, time.UTC),
		VelocityLastHour: 6,
	}
	sc := Enrich(rec)

	if sc.TransactionID != "t1" || sc.UserID != "u1" {
		t.Fatalf("identity not carried over: %+v", sc)
	}
	if sc.BehavioralMetrics[MetricRushed] != true {
		t.Fatal("59s session should be rushed")
	}
	if sc.BehavioralMetrics[MetricTypingCadence] != 0.95 {
		t.Fatalf("typing cadence = %v", sc.BehavioralMetrics[MetricTypingCadence])
	}
	if sc.DeviceContext[DeviceOSRisk] != "HIGH" {
		t.Fatalf("rooted device should be HIGH risk, got %v", sc.DeviceContext[DeviceOSRisk])
	}
	if sc.DeviceContext[DeviceBatteryLevel] != 7 {
		t.Fatalf("battery = %v", sc.DeviceContext[DeviceBatteryLevel])
	}
	if sc.RiskSignals[SignalTimeOfDayRisk] != "HIGH" {
		t.Fatalf("23:30 should be unusual, got %v", sc.RiskSignals[SignalTimeOfDayRisk])
	}
	if sc.RiskSignals[SignalVelocity] != 6 {
		t.Fatalf("velocity = %v", sc.RiskSignals[SignalVelocity])
	}
	if _, ok := sc.RiskSignals[SignalDistanceKm]; ok {
		t.Fatal("distance must be omitted without coordinates")
	}
}

func TestEnrich_QuietSession(t *testing.T) {
	sc := Enrich(&SessionRecord{
		TransactionID:   "t2",
		DurationSeconds: intPtr(60),
		CreatedAt:       time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC),
	})
	if sc.BehavioralMetrics[MetricRushed] != false {
		t.Fatal("60s session is not rushed")
	}
	if sc.RiskSignals[SignalTimeOfDayRisk] != "LOW" {
		t.Fatalf("06:00 should be LOW, got %v", sc.RiskSignals[SignalTimeOfDayRisk])
	}
	if sc.DeviceContext[DeviceOSRisk] != "LOW" {
		t.Fatalf("os risk = %v", sc.DeviceContext[DeviceOSRisk])
	}
}

func TestDistanceFromHome(t *testing.T) {
	london, manchester := [2]float64{51.5074, -0.1278}, [2]float64{53.4808, -2.2426}
	rec := &SessionRecord{
		HomeLatitude: &london[0], HomeLongitude: &london[1],
		Latitude: &manchester[0], Longitude: &manchester[1],
	}
	d, ok := DistanceFromHome(rec)
	if !ok {
		t.Fatal("expected a distance")
	}
	if d < 255 || d > 270 {
		t.Fatalf("London to Manchester = %.1f km, want about 262", d)
	}

	sc := Enrich(rec)
	if sc.RiskSignals[SignalDistanceAnomalous] != true {
		t.Fatal("262 km away should be anomalous")
	}

	rec.Latitude = nil
	if _, ok := DistanceFromHome(rec); ok {
		t.Fatal("missing coordinates must not produce a distance")
	}
}
