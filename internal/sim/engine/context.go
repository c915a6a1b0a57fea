package engine

import (
	"strings"

	"tinytown.ai/internal/registry"
	"tinytown.ai/internal/sim/character"
	"tinytown.ai/internal/sim/townmap"
)

// Context builders render world snapshots into the prompt fragments that
// reference everything by canonical id. Iteration follows the map's insertion
// order and the roster order, so output is stable between ticks.

func locationsContext(reg *registry.Registry, m *townmap.Map) string {
	var b strings.Builder
	for i, name := range m.Names() {
		loc := m.Get(name)
		id := reg.Locations.IDFromName(name)
		if id == "" {
			id = "loc_" + name
		}
		en := reg.Locations.EnglishFromID(id)
		if en == "" {
			en = name
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- " + id + ": " + en + " (" + name + ") - " + loc.Description)
	}
	return b.String()
}

func actionsContext(reg *registry.Registry) string {
	ids := reg.Actions.IDs()
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, "- "+id+": "+reg.Actions.DisplayName(id))
	}
	return strings.Join(lines, "\n")
}

// charactersContext lists every resident except the excluded one, with their
// location id and a status summary trimmed of any trailing dialogue.
func charactersContext(reg *registry.Registry, chars []*character.Character, exclude *character.Character) string {
	parts := make([]string, 0, len(chars))
	for _, c := range chars {
		if exclude != nil && c.ID == exclude.ID {
			continue
		}
		name := c.Profile.Name
		en := c.Profile.EnglishName
		if en == "" {
			en = name
		}
		locDisplay := c.CurrentLocation
		if id := reg.Locations.IDFromName(c.CurrentLocation); id != "" {
			locDisplay = id + " (" + c.CurrentLocation + ")"
		}
		parts = append(parts, en+" ("+name+"): "+locDisplay+" ["+statusSummary(c.Status)+"]")
	}
	return strings.Join(parts, ", ")
}

// statusSummary drops the parenthesized dialogue tail of a status line.
func statusSummary(status string) string {
	if i := strings.Index(status, "("); i >= 0 {
		return strings.TrimSpace(status[:i])
	}
	return status
}
