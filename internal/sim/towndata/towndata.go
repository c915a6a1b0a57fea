// Package towndata loads the character roster and the location graph from
// their JSON files and validates both against embedded schemas before any of
// it reaches the simulation core.
package towndata

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tinytown.ai/internal/llm"
	"tinytown.ai/internal/sim/character"
	"tinytown.ai/internal/sim/townmap"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

type CharacterDef struct {
	Name          string      `json:"name"`
	EnglishName   string      `json:"english_name"`
	Age           string      `json:"age"`
	Occupation    string      `json:"occupation"`
	Personality   string      `json:"personality"`
	Features      string      `json:"features"`
	Quote         string      `json:"quote"`
	Relationships string      `json:"relationships"`
	Residence     string      `json:"residence"`
	HomeLocation  string      `json:"home_location"`
	Icon          string      `json:"icon"`
	Mission       string      `json:"mission"`
	LLMConfig     *llm.Config `json:"llm_config"`
}

type LocationDef struct {
	Name        string   `json:"name"`
	EnglishName string   `json:"english_name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Coordinates [2]int   `json:"coordinates"`
	ConnectedTo []string `json:"connected_to"`
}

type HomeDescription struct {
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
}

type LocationsFile struct {
	StaticLocations  []LocationDef     `json:"static_locations"`
	HomeDescriptions []HomeDescription `json:"home_descriptions"`
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("embedded schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// LoadCharacters reads the roster. Records that fail schema validation are
// logged and skipped; the rest of the roster still loads.
func LoadCharacters(path string, logger *log.Logger) ([]CharacterDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	schema, err := compileSchema("character.schema.json")
	if err != nil {
		return nil, err
	}

	out := make([]CharacterDef, 0, len(records))
	for i, rec := range records {
		var doc any
		if err := json.Unmarshal(rec, &doc); err != nil {
			logger.Printf("roster record %d: %v (skipped)", i, err)
			continue
		}
		if err := schema.Validate(doc); err != nil {
			logger.Printf("roster record %d: %v (skipped)", i, err)
			continue
		}
		var def CharacterDef
		if err := json.Unmarshal(rec, &def); err != nil {
			logger.Printf("roster record %d: %v (skipped)", i, err)
			continue
		}
		if def.Residence == "" {
			def.Residence = def.Name + "的家"
		}
		if def.HomeLocation == "" {
			def.HomeLocation = def.Residence
		}
		if def.Icon == "" {
			def.Icon = "👤"
		}
		out = append(out, def)
	}
	return out, nil
}

// LoadLocations reads and validates the location graph file. Callers fall
// back to a minimal default map on error.
func LoadLocations(path string) (LocationsFile, error) {
	var f LocationsFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return f, fmt.Errorf("parse %s: %w", path, err)
	}
	schema, err := compileSchema("locations.schema.json")
	if err != nil {
		return f, err
	}
	if err := schema.Validate(doc); err != nil {
		return f, fmt.Errorf("validate %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// DescribeHome picks the home-description template whose keyword matches the
// home name; the "default" entry is the fallback. Templates reference the
// home name as {name}.
func (f LocationsFile) DescribeHome(homeName string) string {
	for _, hd := range f.HomeDescriptions {
		isDefault := false
		for _, kw := range hd.Keywords {
			if kw == "default" {
				isDefault = true
				break
			}
		}
		if isDefault {
			continue
		}
		for _, kw := range hd.Keywords {
			if strings.Contains(homeName, kw) {
				return strings.ReplaceAll(hd.Description, "{name}", homeName)
			}
		}
	}
	for _, hd := range f.HomeDescriptions {
		for _, kw := range hd.Keywords {
			if kw == "default" {
				return strings.ReplaceAll(hd.Description, "{name}", homeName)
			}
		}
	}
	return homeName + "."
}

// LocationType maps a config type string to the townmap enum. Unknown types
// default to Square, matching the permissive original data.
func LocationType(s string) townmap.LocationType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "square":
		return townmap.TypeSquare
	case "saloon":
		return townmap.TypeSaloon
	case "home":
		return townmap.TypeHome
	case "library":
		return townmap.TypeLibrary
	case "shop":
		return townmap.TypeShop
	case "farm":
		return townmap.TypeFarm
	default:
		return townmap.TypeSquare
	}
}

// PlaceHomes lays resident homes on the ring around the square and moves each
// resident to their residence. A residence naming an existing static location
// (saloon lodgers) reuses it instead of creating a home. Live and replay runs
// share this so positions match.
func PlaceHomes(m *townmap.Map, chars []*character.Character, f LocationsFile) {
	var order []string
	residents := map[string][]*character.Character{}
	for _, c := range chars {
		res := c.Profile.Residence
		if _, ok := residents[res]; !ok {
			order = append(order, res)
		}
		residents[res] = append(residents[res], c)
	}

	var homes []string
	for _, res := range order {
		if m.Get(res) == nil {
			homes = append(homes, res)
		}
	}
	ring := townmap.HomeRing(homes)
	for _, home := range homes {
		m.AddLocation(&townmap.Location{
			Name:        home,
			Type:        townmap.TypeHome,
			Description: f.DescribeHome(home),
			Coordinates: ring[home],
		})
		if sq := m.Square(); sq != nil {
			m.ConnectLocations(sq.Name, home)
		}
	}

	for _, res := range order {
		loc := m.Get(res)
		if loc == nil {
			continue
		}
		for _, c := range residents[res] {
			c.Profile.HomeLocation = res
			c.CurrentLocation = res
			c.Position = loc.Coordinates
		}
	}
}

// BuildMap constructs the location graph from a validated file: locations
// first, then the symmetric connections.
func BuildMap(f LocationsFile) *townmap.Map {
	m := townmap.New()
	for _, def := range f.StaticLocations {
		m.AddLocation(&townmap.Location{
			Name:        def.Name,
			Type:        LocationType(def.Type),
			Description: def.Description,
			Coordinates: def.Coordinates,
		})
	}
	for _, def := range f.StaticLocations {
		for _, target := range def.ConnectedTo {
			m.ConnectLocations(def.Name, target)
		}
	}
	return m
}
