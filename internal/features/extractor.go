package features

import (
	"math"
	"strings"
	"time"

	"github.com/atlasrisk/atlas/internal/profile"
	"github.com/atlasrisk/atlas/internal/risk"
)

// Extraction constants. Caps keep degenerate history from producing
// unbounded feature values.
const (
	// minHistoryEvents is how many prior events a user needs before their
	// own amount statistics replace the population priors in the z-score.
	minHistoryEvents = 3

	zScoreClip         = 10
	minutesSinceCapMin = 10080 // one week
	distanceCapKM      = 20000 // half Earth circumference
	speedCapKMH        = 2000
	impossibleSpeedKMH = 1000
	amountRatioCap     = 100

	// Velocity normalizers. At the population defaults (2 events/day,
	// $100 average) these reduce to a 5-events-per-hour, $1000-per-hour
	// allowance; heavier users earn proportionally more headroom.
	minHourlyBurstAllowance = 5.0
	minHourlySumAllowance   = 1000.0
)

// Extract derives the feature vector for one event against the profile
// snapshot taken before the event arrived. It never fails: missing optional
// fields degrade to documented sentinel values. Extraction does not mutate
// the profile; the caller folds the event in after scoring.
func Extract(ev *risk.Event, prof *profile.UserProfile) *Vector {
	v := &Vector{}
	amount := ev.Amount.InexactFloat64()
	at := ev.Timestamp

	extractMonetary(v, amount, prof)
	extractTemporal(v, at, prof)
	extractVelocity(v, at, prof)
	extractLocation(v, ev, prof)
	extractDevice(v, ev, at, prof)
	extractMerchant(v, ev)
	extractBehavior(v, amount, prof)
	return v
}

func extractMonetary(v *Vector, amount float64, prof *profile.UserProfile) {
	avg, std := prof.AvgAmount, prof.StdAmount
	if prof.TotalEvents < minHistoryEvents {
		avg, std = profile.DefaultAvgAmount, profile.DefaultStdAmount
	}
	if std <= 0 {
		std = 1
	}
	z := (amount - avg) / std

	v.set("amount", amount)
	v.set("amount_log", math.Log1p(amount))
	v.set("amount_zscore", clamp(z, -zScoreClip, zScoreClip))
	v.set("is_round_amount", boolFeature(isRoundAmount(amount)))

	// Simplified percentile on an assumed distribution around the user's
	// own average.
	percentile := 0.5
	if prof.AvgAmount > 0 {
		percentile = math.Min(1, amount/(prof.AvgAmount*10))
	}
	v.set("amount_percentile", percentile)
}

func extractTemporal(v *Vector, at time.Time, prof *profile.UserProfile) {
	hour := at.Hour()
	// Monday = 0 .. Sunday = 6, the convention the model was trained on.
	dow := (int(at.Weekday()) + 6) % 7

	v.set("hour_of_day", float64(hour))
	v.set("day_of_week", float64(dow))
	v.set("is_weekend", boolFeature(dow >= 5))
	v.set("is_night", boolFeature(hour < 6 || hour >= 22))

	minutesSince := 0.0
	if !prof.LastEventAt.IsZero() {
		minutesSince = at.Sub(prof.LastEventAt).Minutes()
		minutesSince = clamp(minutesSince, 0, minutesSinceCapMin)
	}
	v.set("minutes_since_last_txn", minutesSince)
	v.set("is_unusual_hour", boolFeature(!prof.IsTypicalHour(hour)))
}

func extractVelocity(v *Vector, at time.Time, prof *profile.UserProfile) {
	count1h, sum1h := prof.Window(at, time.Hour)
	count24h, sum24h := prof.Window(at, 24*time.Hour)

	v.set("txn_count_1h", float64(count1h))
	v.set("txn_count_24h", float64(count24h))
	v.set("amount_sum_1h", sum1h)
	v.set("amount_sum_24h", sum24h)

	// Normalize the burst against the user's own baseline rate and spend,
	// floored at the population allowance so thin history cannot shrink it.
	burstAllowance := math.Max(minHourlyBurstAllowance, prof.AvgPerDay/4)
	sumAllowance := math.Max(minHourlySumAllowance, 10*prof.AvgAmount)
	velocity := (float64(count1h)/burstAllowance)*0.5 + (sum1h/sumAllowance)*0.5
	v.set("velocity_score", math.Min(1, velocity))
}

func extractLocation(v *Vector, ev *risk.Event, prof *profile.UserProfile) {
	loc := ev.Location
	if loc == nil || loc.Country == "" {
		v.set("country_risk", missingGeoRisk)
		return
	}

	v.set("country_risk", CountryRisk(loc.Country))
	v.set("is_new_country", boolFeature(!prof.Countries[loc.Country]))

	if !loc.HasCoords() || prof.LastLocation == nil || !prof.LastLocation.HasCoords() {
		return
	}
	distance := HaversineKM(prof.LastLocation.Lat, prof.LastLocation.Lon, loc.Lat, loc.Lon)
	v.set("distance_from_last_km", math.Min(distance, distanceCapKM))

	if prof.LastEventAt.IsZero() {
		return
	}
	hours := ev.Timestamp.Sub(prof.LastEventAt).Hours()
	if hours <= 0 {
		return
	}
	speed := math.Min(distance/hours, speedCapKMH)
	v.set("location_velocity", speed)
	v.set("is_impossible_travel", boolFeature(speed > impossibleSpeedKMH))
}

func extractDevice(v *Vector, ev *risk.Event, at time.Time, prof *profile.UserProfile) {
	fingerprint := "unknown"
	deviceType := "desktop"
	if ev.Device != nil {
		if ev.Device.Fingerprint != "" {
			fingerprint = ev.Device.Fingerprint
		}
		if ev.Device.Type != "" {
			deviceType = ev.Device.Type
		}
	}

	firstSeen, known := prof.Devices[fingerprint]
	v.set("is_new_device", boolFeature(!known))

	ageDays := 0.0
	if known {
		ageDays = math.Max(0, at.Sub(firstSeen).Hours()/24)
	}
	v.set("device_age_days", ageDays)

	deviceRisk := 0.2
	if deviceType == "mobile" {
		deviceRisk = 0.3
	}
	if !known {
		deviceRisk += 0.3
	}
	v.set("device_risk_score", deviceRisk)
}

func extractMerchant(v *Vector, ev *risk.Event) {
	category := strings.ToLower(ev.MerchantCategory)
	if category == "" {
		category = "retail"
	}
	mRisk := MerchantRisk(category)
	v.set("merchant_category_risk", mRisk)
	v.set("is_high_risk_merchant", boolFeature(mRisk >= highRiskMerchantThreshold))
}

func extractBehavior(v *Vector, amount float64, prof *profile.UserProfile) {
	tenure := math.Max(1, float64(prof.TotalEvents))
	v.set("user_tenure_days", math.Min(tenure, 365))

	fraudHistory := math.Min(1, float64(prof.FraudIncidents)*0.2)
	v.set("user_fraud_history", fraudHistory)

	avg := prof.AvgAmount
	if avg <= 0 {
		avg = profile.DefaultAvgAmount
	}
	ratio := math.Min(amount/avg, amountRatioCap)
	v.set("amount_vs_avg_ratio", ratio)

	anomaly := 0.0
	if ratio > 3 {
		anomaly += 0.3
	}
	if prof.TotalEvents < 5 {
		anomaly += 0.2
	}
	anomaly += fraudHistory
	v.set("behavior_anomaly_score", math.Min(anomaly, 1))
}

// isRoundAmount reports whether the amount is an exact multiple of 100,
// within float tolerance.
func isRoundAmount(amount float64) bool {
	if amount <= 0 {
		return false
	}
	return math.Abs(math.Mod(amount, 100)) < 1e-9
}

// HaversineKM is the great-circle distance between two coordinates.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371

	lat1R := lat1 * math.Pi / 180
	lat2R := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1R)*math.Cos(lat2R)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
