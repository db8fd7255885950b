package features

// Static risk priors. These ship with the service rather than the model
// artifact: they are lookup data, not learned parameters, and retraining
// does not change them.

// countryRiskScores assigns a fraud-risk prior per ISO country code.
var countryRiskScores = map[string]float64{
	"US": 0.1, "CA": 0.1, "GB": 0.1, "DE": 0.1, "FR": 0.1,
	"AU": 0.1, "JP": 0.1, "NZ": 0.1, "CH": 0.1, "SE": 0.1,
	"NG": 0.8, "RU": 0.7, "CN": 0.5, "BR": 0.5, "IN": 0.4,
	"MX": 0.4, "PH": 0.5, "ID": 0.5, "VN": 0.5, "PK": 0.6,
}

// unknownCountryRisk is the prior for country codes absent from the table.
const unknownCountryRisk = 0.5

// missingGeoRisk is the sentinel when an event carries no location at all:
// the approximate population average of the table, neither benign nor
// alarming.
const missingGeoRisk = 0.3

// merchantCategoryRisk assigns a fraud-risk prior per merchant category.
var merchantCategoryRisk = map[string]float64{
	"grocery": 0.1, "restaurant": 0.1, "retail": 0.2,
	"electronics": 0.4, "jewelry": 0.5, "cryptocurrency": 0.8,
	"gambling": 0.7, "wire_transfer": 0.6, "atm": 0.3,
	"travel": 0.3, "entertainment": 0.2, "utilities": 0.1,
	"healthcare": 0.1, "education": 0.1, "gas_station": 0.2,
}

// unknownMerchantRisk is the prior for categories absent from the table.
const unknownMerchantRisk = 0.3

// highRiskMerchantThreshold marks categories whose prior flags the
// is_high_risk_merchant feature.
const highRiskMerchantThreshold = 0.5

// CountryRisk returns the risk prior for a country code.
func CountryRisk(country string) float64 {
	if country == "" {
		return missingGeoRisk
	}
	if r, ok := countryRiskScores[country]; ok {
		return r
	}
	return unknownCountryRisk
}

// MerchantRisk returns the risk prior for a merchant category.
func MerchantRisk(category string) float64 {
	if r, ok := merchantCategoryRisk[category]; ok {
		return r
	}
	return unknownMerchantRisk
}
