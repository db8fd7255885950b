// Package features turns a raw event plus the user's rolling profile into
// the fixed-order numeric vector the models consume. The vector schema is
// the model contract: training and inference must agree on name order, so
// the order here never changes without a model version bump.
package features

// Count is the number of features in the vector schema.
const Count = 30

// names is the canonical feature order. Index positions are the model
// input contract.
var names = [Count]string{
	// Monetary
	"amount",
	"amount_log",
	"amount_zscore",
	"is_round_amount",
	"amount_percentile",

	// Temporal
	"hour_of_day",
	"day_of_week",
	"is_weekend",
	"is_night",
	"minutes_since_last_txn",
	"is_unusual_hour",

	// Velocity
	"txn_count_1h",
	"txn_count_24h",
	"amount_sum_1h",
	"amount_sum_24h",
	"velocity_score",

	// Location
	"country_risk",
	"distance_from_last_km",
	"is_new_country",
	"location_velocity",
	"is_impossible_travel",

	// Device
	"is_new_device",
	"device_age_days",
	"device_risk_score",

	// Merchant
	"merchant_category_risk",
	"is_high_risk_merchant",

	// User behavior
	"user_tenure_days",
	"user_fraud_history",
	"amount_vs_avg_ratio",
	"behavior_anomaly_score",
}

var indexByName = func() map[string]int {
	m := make(map[string]int, Count)
	for i, n := range names {
		m[n] = i
	}
	return m
}()

// displayNames maps feature names to the human-readable labels used in
// contributions and explanations.
var displayNames = map[string]string{
	"amount":                 "Transaction Amount",
	"amount_log":             "Amount (Log Scale)",
	"amount_zscore":          "Amount Deviation",
	"is_round_amount":        "Round Number",
	"amount_percentile":      "Amount Percentile",
	"hour_of_day":            "Hour of Day",
	"day_of_week":            "Day of Week",
	"is_weekend":             "Weekend Transaction",
	"is_night":               "Night Transaction",
	"minutes_since_last_txn": "Time Since Last Transaction",
	"is_unusual_hour":        "Unusual Hour",
	"txn_count_1h":           "Transactions in Last Hour",
	"txn_count_24h":          "Transactions in Last 24h",
	"amount_sum_1h":          "Amount in Last Hour",
	"amount_sum_24h":         "Amount in Last 24h",
	"velocity_score":         "Velocity Score",
	"country_risk":           "Country Risk",
	"distance_from_last_km":  "Distance from Last Location",
	"is_new_country":         "New Country",
	"location_velocity":      "Location Velocity",
	"is_impossible_travel":   "Impossible Travel",
	"is_new_device":          "New Device",
	"device_age_days":        "Device Age",
	"device_risk_score":      "Device Risk",
	"merchant_category_risk": "Merchant Category Risk",
	"is_high_risk_merchant":  "High Risk Merchant",
	"user_tenure_days":       "Account Age",
	"user_fraud_history":     "Fraud History",
	"amount_vs_avg_ratio":    "Amount vs Average",
	"behavior_anomaly_score": "Behavior Anomaly",
}

// Names returns the canonical feature order as a fresh slice.
func Names() []string {
	out := make([]string, Count)
	copy(out[:], names[:])
	return out
}

// Index returns the vector position of a feature name.
func Index(name string) (int, bool) {
	i, ok := indexByName[name]
	return i, ok
}

// DisplayName returns the human-readable label for a feature name. Unknown
// names fall back to the raw name.
func DisplayName(name string) string {
	if d, ok := displayNames[name]; ok {
		return d
	}
	return name
}

// Vector is a fixed-order feature vector. The zero value is all zeros.
type Vector struct {
	values [Count]float64
}

// set assigns by name. Unknown names are a programming error and panic.
func (v *Vector) set(name string, val float64) {
	i, ok := indexByName[name]
	if !ok {
		panic("features: unknown feature " + name)
	}
	v.values[i] = val
}

// Get returns the value for a feature name, or 0 for unknown names.
func (v *Vector) Get(name string) float64 {
	i, ok := indexByName[name]
	if !ok {
		return 0
	}
	return v.values[i]
}

// At returns the value at vector position i.
func (v *Vector) At(i int) float64 {
	return v.values[i]
}

// Values returns the vector in canonical order as a fresh slice.
func (v *Vector) Values() []float64 {
	out := make([]float64, Count)
	copy(out, v.values[:])
	return out
}

// Map returns name → value for all features.
func (v *Vector) Map() map[string]float64 {
	m := make(map[string]float64, Count)
	for i, n := range names {
		m[n] = v.values[i]
	}
	return m
}
