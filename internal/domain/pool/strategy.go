package pool

import "github.com/webitel/im-connect/config"

// selectLocked picks one entry out of a non-empty candidate slice according
// to the configured strategy. Candidates arrive in registration order.
// The shared default tie-break is higher health score, then higher priority.
func (m *manager) selectLocked(candidates []*entry) *entry {
	switch m.cfg.strategy {
	case config.StrategyLeastConnections:
		// Ranked by failed health probes alone; transport errors already
		// weigh on the score used by the tie-break.
		return pickBest(candidates, func(a, b *entry) bool {
			if a.checkErrors != b.checkErrors {
				return a.checkErrors < b.checkErrors
			}
			return defaultTieBreak(a, b)
		})

	case config.StrategyPriority:
		return pickBest(candidates, func(a, b *entry) bool {
			if a.record.Priority != b.record.Priority {
				return a.record.Priority > b.record.Priority
			}
			return a.record.HealthScore > b.record.HealthScore
		})

	default: // round-robin
		chosen := candidates[m.rrIndex%len(candidates)]
		m.rrIndex++
		return chosen
	}
}

// pickBest returns the candidate for which better(candidate, other) holds
// against every earlier pick; stable for equal entries.
func pickBest(candidates []*entry, better func(a, b *entry) bool) *entry {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best
}

func defaultTieBreak(a, b *entry) bool {
	if a.record.HealthScore != b.record.HealthScore {
		return a.record.HealthScore > b.record.HealthScore
	}
	return a.record.Priority > b.record.Priority
}
