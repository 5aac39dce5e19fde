package model

import "time"

// RulesContent is the structured style configuration a workspace owner edits.
type RulesContent struct {
	Tone        string   `json:"tone,omitempty"`
	Style       string   `json:"style,omitempty"`
	Personality string   `json:"personality,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	Formatting  []string `json:"formatting,omitempty"`
}

func (c RulesContent) Empty() bool {
	return c.Tone == "" && c.Style == "" && c.Personality == "" && c.Domain == "" &&
		len(c.Constraints) == 0 && len(c.Formatting) == 0
}

type Rules struct {
	WorkspaceID string       `gorm:"primaryKey;size:64" json:"workspace_id"`
	Content     RulesContent `gorm:"serializer:json;type:text" json:"content"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
