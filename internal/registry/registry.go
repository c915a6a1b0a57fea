// Package registry maintains the bidirectional mapping between stable
// canonical identifiers (char_*, loc_*, act_*) and display names. Prompts sent
// to the decision service reference canonical IDs so that localized display
// names can change without destabilizing model output.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var (
	ErrBadPrefix     = errors.New("canonical id has wrong prefix")
	ErrDuplicateID   = errors.New("canonical id already registered")
	ErrDuplicateName = errors.New("localized name already registered")
)

// Namespace is one prefix-scoped table of id <-> name mappings.
// Within a namespace both directions are injective.
type Namespace struct {
	prefix string

	idToName map[string]string
	nameToID map[string]string
	idToEN   map[string]string
	enToID   map[string]string
}

func newNamespace(prefix string) *Namespace {
	return &Namespace{
		prefix:   prefix,
		idToName: map[string]string{},
		nameToID: map[string]string{},
		idToEN:   map[string]string{},
		enToID:   map[string]string{},
	}
}

// Register inserts an (id, localized, english) triple. Re-registering an
// identical pair is a no-op; a conflicting id or name is an error.
func (n *Namespace) Register(id, localized, english string) error {
	if !strings.HasPrefix(id, n.prefix+"_") {
		return fmt.Errorf("%w: %s must start with %q", ErrBadPrefix, id, n.prefix+"_")
	}
	if have, ok := n.idToName[id]; ok {
		if have == localized {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s (already %s)", ErrDuplicateID, id, localized, have)
	}
	if have, ok := n.nameToID[localized]; ok {
		if have == id {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s (already %s)", ErrDuplicateName, localized, id, have)
	}
	n.idToName[id] = localized
	n.nameToID[localized] = id
	n.idToEN[id] = english
	n.enToID[english] = id
	return nil
}

// NameFromID returns the localized name, or "" when unknown.
func (n *Namespace) NameFromID(id string) string { return n.idToName[id] }

// IDFromName returns the canonical id for a localized name, or "".
func (n *Namespace) IDFromName(name string) string { return n.nameToID[name] }

// EnglishFromID returns the english name, or "".
func (n *Namespace) EnglishFromID(id string) string { return n.idToEN[id] }

// IDFromEnglish returns the canonical id for an english name, or "".
func (n *Namespace) IDFromEnglish(english string) string { return n.enToID[english] }

// IDs returns all registered canonical ids (unsorted).
func (n *Namespace) IDs() []string {
	out := make([]string, 0, len(n.idToName))
	for id := range n.idToName {
		out = append(out, id)
	}
	return out
}

// DisplayName accepts either a canonical id or a localized name and renders
// "English (Localized)". Unknown identifiers pass through unchanged.
func (n *Namespace) DisplayName(identifier string) string {
	if strings.HasPrefix(identifier, n.prefix+"_") {
		localized := n.idToName[identifier]
		english := n.idToEN[identifier]
		if localized != "" && english != "" {
			return fmt.Sprintf("%s (%s)", english, localized)
		}
		return identifier
	}
	if id := n.nameToID[identifier]; id != "" {
		if english := n.idToEN[id]; english != "" {
			return fmt.Sprintf("%s (%s)", english, identifier)
		}
	}
	return identifier
}

// normalizeText rewrites {{id}} and [id] occurrences of known ids into their
// localized names. Used to clean up model output that leaked raw ids.
func (n *Namespace) normalizeText(text string) string {
	for id, localized := range n.idToName {
		esc := regexp.QuoteMeta(id)
		text = regexp.MustCompile(`\{\{\s*`+esc+`\s*\}\}`).ReplaceAllString(text, localized)
		text = regexp.MustCompile(`\[\s*`+esc+`\s*\]`).ReplaceAllString(text, localized)
	}
	return text
}

// Registry groups the character, location and action namespaces.
// It is populated once at startup and read-only afterwards, so lookups are
// safe from concurrent request goroutines without locking.
type Registry struct {
	Characters *Namespace
	Locations  *Namespace
	Actions    *Namespace
}

func New() *Registry {
	return &Registry{
		Characters: newNamespace("char"),
		Locations:  newNamespace("loc"),
		Actions:    newNamespace("act"),
	}
}

func (r *Registry) RegisterCharacter(id, localized, english string) error {
	return r.Characters.Register(id, localized, english)
}

func (r *Registry) RegisterLocation(id, localized, english string) error {
	return r.Locations.Register(id, localized, english)
}

func (r *Registry) RegisterAction(id, localized, english string) error {
	return r.Actions.Register(id, localized, english)
}

// NormalizeText rewrites leaked character and location ids in free text to
// their localized names. Action ids are left alone; they never appear in
// rendered dialogue.
func (r *Registry) NormalizeText(text string) string {
	text = r.Characters.normalizeText(text)
	text = r.Locations.normalizeText(text)
	return text
}

// CharacterIDFor derives the canonical id from an english name
// ("Town Square" -> "char_town_square" style slug).
func CharacterIDFor(english string) string { return slug("char", english) }

// LocationIDFor derives the canonical location id from an english name.
func LocationIDFor(english string) string { return slug("loc", english) }

func slug(prefix, english string) string {
	s := strings.ToLower(strings.TrimSpace(english))
	s = strings.ReplaceAll(s, " ", "_")
	return prefix + "_" + s
}

// Process-lifetime registry for the composition root. Core packages take a
// *Registry parameter instead of reaching for this.
var (
	defaultMu  sync.Mutex
	defaultReg *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultReg == nil {
		defaultReg = New()
	}
	return defaultReg
}

// Reset discards the process-wide registry. Test isolation only.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultReg = nil
}
