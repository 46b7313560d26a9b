package rewards

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"participation-points/models"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

var (
	ErrUnknownAction    = errors.New("unknown reward action")
	ErrPointsOutOfRange = errors.New("points out of range for action")
	ErrInvalidCatalog   = errors.New("invalid reward catalog")
)

const nftIDPrefix = "nft-"

type ActionKind string

const (
	ActionFixed    ActionKind = "fixed"
	ActionVariable ActionKind = "variable"
)

// RewardAction maps an action tag to the points it credits.
// Fixed actions always credit Points; variable actions accept 0..MaxPoints from the caller.
type RewardAction struct {
	Tag         string     `yaml:"tag" json:"tag"`
	Kind        ActionKind `yaml:"kind" json:"kind"`
	Points      int64      `yaml:"points" json:"points,omitempty"`
	MaxPoints   int64      `yaml:"max_points" json:"max_points,omitempty"`
	Description string     `yaml:"description" json:"description,omitempty"`
}

// Threshold is a badge or NFT tier definition. An empty Audience matches every user type.
type Threshold struct {
	ID        string            `yaml:"id" json:"id"`
	Name      string            `yaml:"name" json:"name"`
	Tier      string            `yaml:"tier" json:"tier"`
	Threshold int64             `yaml:"threshold" json:"threshold"`
	Audience  []models.UserType `yaml:"audience" json:"audience,omitempty"`
}

// Milestone is a threshold crossed by a total change.
type Milestone struct {
	Threshold
	Kind models.AwardKind `json:"kind"`
}

type catalogFile struct {
	Version  string         `yaml:"version"`
	Actions  []RewardAction `yaml:"actions"`
	Badges   []Threshold    `yaml:"badges"`
	NFTTiers []Threshold    `yaml:"nft_tiers"`
}

// Catalog is the immutable reward configuration. Safe for concurrent use.
type Catalog struct {
	version  string
	actions  map[string]RewardAction
	badges   []Threshold
	nftTiers []Threshold
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	c := &Catalog{
		version: f.Version,
		actions: make(map[string]RewardAction, len(f.Actions)),
	}

	for _, a := range f.Actions {
		a.Tag = NormalizeTag(a.Tag)
		if a.Tag == "" {
			return nil, fmt.Errorf("%w: action with empty tag", ErrInvalidCatalog)
		}
		if _, dup := c.actions[a.Tag]; dup {
			return nil, fmt.Errorf("%w: duplicate action %q", ErrInvalidCatalog, a.Tag)
		}
		switch a.Kind {
		case ActionFixed:
			if a.Points < 0 {
				return nil, fmt.Errorf("%w: action %q has negative points", ErrInvalidCatalog, a.Tag)
			}
		case ActionVariable:
			if a.MaxPoints <= 0 {
				return nil, fmt.Errorf("%w: variable action %q needs max_points", ErrInvalidCatalog, a.Tag)
			}
		default:
			return nil, fmt.Errorf("%w: action %q has unknown kind %q", ErrInvalidCatalog, a.Tag, a.Kind)
		}
		c.actions[a.Tag] = a
	}

	var err error
	if c.badges, err = normalizeThresholds(f.Badges, ""); err != nil {
		return nil, err
	}
	if c.nftTiers, err = normalizeThresholds(f.NFTTiers, nftIDPrefix); err != nil {
		return nil, err
	}
	return c, nil
}

func normalizeThresholds(in []Threshold, prefix string) ([]Threshold, error) {
	out := make([]Threshold, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		if t.Threshold <= 0 {
			return nil, fmt.Errorf("%w: %q needs a positive threshold", ErrInvalidCatalog, t.Name)
		}
		if t.ID == "" {
			base := t.Name
			if prefix != "" && t.Tier != "" {
				base = t.Tier
			}
			t.ID = slug.Make(base)
		}
		if prefix != "" && !strings.HasPrefix(t.ID, prefix) {
			t.ID = prefix + t.ID
		}
		if t.ID == "" || t.ID == prefix {
			return nil, fmt.Errorf("%w: threshold without name or id", ErrInvalidCatalog)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, t.ID)
		}
		seen[t.ID] = true
		for _, a := range t.Audience {
			if !a.Valid() {
				return nil, fmt.Errorf("%w: %q has unknown audience %q", ErrInvalidCatalog, t.ID, a)
			}
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out, nil
}

// NormalizeTag lowercases and slugs an action tag ("Chat Participation" → "chat-participation").
// Underscores are kept, so catalog tags like chat_participation round-trip unchanged.
func NormalizeTag(tag string) string {
	return slug.Make(strings.TrimSpace(tag))
}

func (c *Catalog) Version() string { return c.version }

// Action looks up a tag after normalization.
func (c *Catalog) Action(tag string) (RewardAction, bool) {
	a, ok := c.actions[NormalizeTag(tag)]
	return a, ok
}

// Resolve returns the points to credit for an action given the caller's requested value.
func (c *Catalog) Resolve(tag string, requested int64) (int64, RewardAction, error) {
	a, ok := c.Action(tag)
	if !ok {
		return 0, RewardAction{}, fmt.Errorf("%w: %q", ErrUnknownAction, tag)
	}
	if requested < 0 {
		return 0, a, fmt.Errorf("%w: %d < 0", ErrPointsOutOfRange, requested)
	}
	if a.Kind == ActionFixed {
		return a.Points, a, nil
	}
	if requested > a.MaxPoints {
		return 0, a, fmt.Errorf("%w: %d > %d for %q", ErrPointsOutOfRange, requested, a.MaxPoints, a.Tag)
	}
	return requested, a, nil
}

// Actions returns every action sorted by tag.
func (c *Catalog) Actions() []RewardAction {
	out := make([]RewardAction, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func (c *Catalog) Badges() []Threshold {
	return append([]Threshold(nil), c.badges...)
}

func (c *Catalog) NFTTiers() []Threshold {
	return append([]Threshold(nil), c.nftTiers...)
}

// Crossed returns every badge for userType and every NFT tier with a threshold in (oldTotal, newTotal],
// ascending by threshold. Badges sort before NFT tiers at equal thresholds.
func (c *Catalog) Crossed(userType models.UserType, oldTotal, newTotal int64) []Milestone {
	if newTotal <= oldTotal {
		return nil
	}
	var out []Milestone
	for _, b := range c.badges {
		if b.Threshold > oldTotal && b.Threshold <= newTotal && matchesAudience(b, userType) {
			out = append(out, Milestone{Threshold: b, Kind: models.AwardKindBadge})
		}
	}
	for _, t := range c.nftTiers {
		if t.Threshold > oldTotal && t.Threshold <= newTotal && matchesAudience(t, userType) {
			out = append(out, Milestone{Threshold: t, Kind: models.AwardKindNFT})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Threshold.Threshold < out[j].Threshold.Threshold })
	return out
}

func matchesAudience(t Threshold, userType models.UserType) bool {
	if len(t.Audience) == 0 {
		return true
	}
	for _, a := range t.Audience {
		if a == userType {
			return true
		}
	}
	return false
}
