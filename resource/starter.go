// Package resource loads the starter quest pack given to new users.
package resource

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pixelprogress/server/game/ledger"
)

//go:embed starter.yaml
var defaultStarter []byte

// StarterQuest is one pack entry. DueInDays, when set, is relative to the day
// the pack is applied.
type StarterQuest struct {
	ledger.Draft `yaml:",inline"`
	DueInDays    *int `yaml:"due_in_days"`
}

// StarterPack is the parsed pack.
type StarterPack struct {
	Quests []StarterQuest `yaml:"quests"`
}

// LoadStarter reads the pack at path, or the built-in pack when path is empty.
func LoadStarter(path string) (*StarterPack, error) {
	data := defaultStarter
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("resource: read %s: %w", path, err)
		}
		data = b
	}
	return ParseStarter(data)
}

// ParseStarter decodes and validates a YAML pack.
func ParseStarter(data []byte) (*StarterPack, error) {
	var p StarterPack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("resource: parse starter pack: %w", err)
	}
	// Validate every entry up front so a bad pack fails at startup.
	now := time.Now()
	for i, sq := range p.Quests {
		if _, err := ledger.NewQuest(sq.Draft, now); err != nil {
			return nil, fmt.Errorf("resource: starter quest %d: %w", i, err)
		}
	}
	return &p, nil
}

// Build materializes fresh quests with new ids, in pack order.
func (p *StarterPack) Build(now time.Time, loc *time.Location) ([]ledger.Quest, error) {
	if p == nil {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]ledger.Quest, 0, len(p.Quests))
	for _, sq := range p.Quests {
		d := sq.Draft
		if sq.DueInDays != nil {
			d.DueDate = now.In(loc).AddDate(0, 0, *sq.DueInDays).Format(ledger.DateLayout)
		}
		q, err := ledger.NewQuest(d, now)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
