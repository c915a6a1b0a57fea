// Package protocol defines the observer stream messages. Observers are
// read-only; the daemon pushes the latest town state after every tick.
package protocol

import "encoding/json"

const (
	MsgTownState = "TOWN_STATE"
	MsgError     = "ERROR"
)

type CharacterState struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Status   string `json:"status"`
	Emoji    string `json:"emoji"`
}

type NoticeState struct {
	Content   string `json:"content"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
}

type TownStateMsg struct {
	Type       string           `json:"type"`
	Seq        uint64           `json:"seq"`
	SimTime    string           `json:"sim_time"`
	IsNight    bool             `json:"is_night"`
	Characters []CharacterState `json:"characters"`
	Notices    []NoticeState    `json:"notices,omitempty"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals a message for the wire.
func Encode(v any) ([]byte, error) { return json.Marshal(v) }
