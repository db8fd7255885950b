package risk

// ActionPolicy maps a scored level to a recommended action. The engine
// applies a policy rather than hard-coding the table so deployments can
// swap in stricter or looser dispositions without touching scoring.
type ActionPolicy interface {
	ActionFor(level Level, anomalous bool) Action
}

// StandardPolicy is the default disposition table: block critical, review
// high, review medium when the anomaly detector also fired, approve the
// rest. Anomaly alone never blocks; the classifier owns the score.
type StandardPolicy struct{}

func (StandardPolicy) ActionFor(level Level, anomalous bool) Action {
	switch level {
	case LevelCritical:
		return ActionBlock
	case LevelHigh:
		return ActionReview
	case LevelMedium:
		if anomalous {
			return ActionReview
		}
		return ActionApprove
	default:
		return ActionApprove
	}
}

// PolicyFunc adapts a plain function to an ActionPolicy.
type PolicyFunc func(level Level, anomalous bool) Action

func (f PolicyFunc) ActionFor(level Level, anomalous bool) Action {
	return f(level, anomalous)
}
