package explain

import (
	"fmt"
	"math"
)

// factorContext is the event-level data narratives interpolate.
type factorContext struct {
	amount     float64
	ratio      float64
	country    string
	category   string
	distanceKM float64
	minutes    float64
	count1h    int
	hour       int
}

func newFactorContext(in Input) *factorContext {
	ctx := &factorContext{
		amount:     in.Event.Amount.InexactFloat64(),
		ratio:      in.Vector.Get("amount_vs_avg_ratio"),
		category:   in.Event.MerchantCategory,
		distanceKM: in.Vector.Get("distance_from_last_km"),
		minutes:    in.Vector.Get("minutes_since_last_txn"),
		count1h:    int(in.Vector.Get("txn_count_1h")),
		hour:       int(in.Vector.Get("hour_of_day")),
	}
	if in.Event.Location != nil {
		ctx.country = in.Event.Location.Country
	}
	if ctx.category == "" {
		ctx.category = "unknown"
	}
	return ctx
}

func (ctx *factorContext) countryOr(def string) string {
	if ctx.country == "" {
		return def
	}
	return ctx.country
}

// typicalAmount back-solves the user's average from the ratio feature,
// so the comparison line agrees with the numbers the model saw.
func (ctx *factorContext) typicalAmount() float64 {
	return ctx.amount / math.Max(ctx.ratio, 0.01)
}

// templateSet is a versioned narrative catalog. Risk-increasing factors
// render the high variant, everything else the low variant; features
// without an entry fall back to a generic impact line.
type templateSet struct {
	version string
	high    map[string]func(*factorContext) string
	low     map[string]string
	simple  map[string]func(*factorContext) string
}

func (t *templateSet) describe(feature string, impact float64, ctx *factorContext) string {
	if impact > 0 {
		if f, ok := t.high[feature]; ok {
			return f(ctx)
		}
	} else if s, ok := t.low[feature]; ok {
		return s
	}
	direction := "decreased"
	if impact > 0 {
		direction = "increased"
	}
	return fmt.Sprintf("This factor %s the risk score by %.1f points", direction, math.Abs(impact))
}

func (t *templateSet) simpleReason(feature string, ctx *factorContext) string {
	if f, ok := t.simple[feature]; ok {
		return f(ctx)
	}
	return ""
}

func defaultTemplates() *templateSet {
	return &templateSet{
		version: "v1",
		high: map[string]func(*factorContext) string{
			"amount_zscore": func(c *factorContext) string {
				return fmt.Sprintf("This transaction of $%.2f is %.1fx higher than your typical spending of $%.2f",
					c.amount, c.ratio, c.typicalAmount())
			},
			"country_risk": func(c *factorContext) string {
				return fmt.Sprintf("Transaction originated from %s, which has elevated fraud risk", c.countryOr("unknown"))
			},
			"is_new_device": func(c *factorContext) string {
				return "This is the first time we've seen this device used with your account"
			},
			"is_impossible_travel": func(c *factorContext) string {
				return fmt.Sprintf("The location is %.0fkm from your last transaction, which occurred only %.1f hours ago - this appears physically impossible",
					c.distanceKM, c.minutes/60)
			},
			"velocity_score": func(c *factorContext) string {
				return fmt.Sprintf("You've made %d transactions in the last hour, which is unusual", c.count1h)
			},
			"is_night": func(c *factorContext) string {
				return fmt.Sprintf("This transaction occurred at an unusual time (%d:00)", c.hour)
			},
			"is_high_risk_merchant": func(c *factorContext) string {
				return fmt.Sprintf("This merchant category (%s) has elevated fraud rates", c.category)
			},
			"distance_from_last_km": func(c *factorContext) string {
				return fmt.Sprintf("Transaction is %.0fkm from your last known location", c.distanceKM)
			},
			"is_new_country": func(c *factorContext) string {
				return fmt.Sprintf("This is the first transaction we've seen from %s", c.countryOr("unknown"))
			},
		},
		low: map[string]string{
			"amount_zscore":         "This transaction amount is within your normal spending range",
			"country_risk":          "Transaction is from a low-risk country",
			"is_new_device":         "Transaction is from a recognized device",
			"is_impossible_travel":  "Location is consistent with your travel patterns",
			"velocity_score":        "Transaction frequency is normal",
			"is_night":              "Transaction timing is within your normal hours",
			"is_high_risk_merchant": "Merchant category has low fraud rates",
			"distance_from_last_km": "Transaction is near your usual locations",
			"is_new_country":        "Country is in your usual transaction locations",
		},
		simple: map[string]func(*factorContext) string{
			"amount_zscore": func(c *factorContext) string {
				return fmt.Sprintf("This purchase of $%.2f is much larger than your typical spending", c.amount)
			},
			"country_risk": func(c *factorContext) string {
				return fmt.Sprintf("The transaction location (%s) is unusual", c.countryOr("unknown"))
			},
			"is_new_device": func(c *factorContext) string {
				return "We don't recognize the device used for this transaction"
			},
			"is_impossible_travel": func(c *factorContext) string {
				return "The location is very far from where you were recently"
			},
			"velocity_score": func(c *factorContext) string {
				return "You've made several transactions very quickly"
			},
			"is_night": func(c *factorContext) string {
				return "This transaction was made at an unusual time"
			},
			"is_high_risk_merchant": func(c *factorContext) string {
				return "The merchant type has higher fraud rates"
			},
			"is_new_country": func(c *factorContext) string {
				return fmt.Sprintf("This is your first transaction from %s", c.countryOr("this country"))
			},
			"distance_from_last_km": func(c *factorContext) string {
				return "This location is far from where you normally shop"
			},
		},
	}
}
