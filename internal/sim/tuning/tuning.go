// Package tuning loads the scalar simulation tunables from tuning.yaml.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	MinutesPerTick int `yaml:"minutes_per_tick"`
	TickIntervalMs int `yaml:"tick_interval_ms"`
	DurationDays   int `yaml:"simulation_duration_days"`

	Start StartTime `yaml:"start"`

	InteractionCooldownMinutes int     `yaml:"interaction_cooldown_minutes"`
	CrowdedCooldownMinutes     int     `yaml:"crowded_cooldown_minutes"`
	InteractionProbability     float64 `yaml:"interaction_probability"`
	ConversationBusyMinutes    int     `yaml:"conversation_busy_minutes"`
	DefaultActionMinutes       int     `yaml:"default_action_minutes"`
	PlanningRetryMinutes       int     `yaml:"planning_retry_minutes"`
	EarlyEndWindowMinutes      int     `yaml:"early_end_window_minutes"`

	RequestTimeoutSeconds int   `yaml:"request_timeout_seconds"`
	Seed                  int64 `yaml:"seed"`
}

type StartTime struct {
	Year  int `yaml:"year"`
	Month int `yaml:"month"`
	Day   int `yaml:"day"`
	Hour  int `yaml:"hour"`
}

func Defaults() Tuning {
	return Tuning{
		MinutesPerTick:             5,
		TickIntervalMs:             1000,
		DurationDays:               3,
		Start:                      StartTime{Year: 2025, Month: 1, Day: 1, Hour: 6},
		InteractionCooldownMinutes: 150,
		CrowdedCooldownMinutes:     30,
		InteractionProbability:     0.4,
		ConversationBusyMinutes:    45,
		DefaultActionMinutes:       60,
		PlanningRetryMinutes:       15,
		EarlyEndWindowMinutes:      0,
		RequestTimeoutSeconds:      90,
		Seed:                       1337,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
