package engine

import (
	"time"

	"tinytown.ai/internal/sim/character"
)

// crowdedThreshold is the eligible-occupant count at which a location is
// considered crowded and the shortened cooldown applies.
const crowdedThreshold = 3

// handleInteractions pairs up residents standing at the same location.
// Groups are walked in roster order, so the candidate pair is deterministic.
func (e *Engine) handleInteractions(now time.Time) {
	byLoc := map[string][]*character.Character{}
	var locOrder []string
	for _, c := range e.chars {
		if _, ok := byLoc[c.CurrentLocation]; !ok {
			locOrder = append(locOrder, c.CurrentLocation)
		}
		byLoc[c.CurrentLocation] = append(byLoc[c.CurrentLocation], c)
	}

	for _, loc := range locOrder {
		group := byLoc[loc]
		if len(group) < 2 {
			continue
		}

		var eligible []*character.Character
		for _, c := range group {
			if c.IsThinking || c.IsSleeping() {
				continue
			}
			eligible = append(eligible, c)
		}
		if len(eligible) < 2 {
			continue
		}

		c1, c2 := eligible[0], eligible[1]
		key := newPairKey(c1.Profile.Name, c2.Profile.Name)
		if until, ok := e.cooldowns[key]; ok && now.Before(until) {
			continue
		}
		if e.rng.Float64() < 1.0-e.cfg.InteractionProbability {
			continue
		}

		e.dispatchConversation(c1, c2)

		cooldown := e.cfg.InteractionCooldownMinutes
		if len(eligible) >= crowdedThreshold {
			cooldown = e.cfg.CrowdedCooldownMinutes
		}
		e.cooldowns[key] = now.Add(time.Duration(cooldown) * time.Minute)
	}
}
