// Package config holds the immutable configuration snapshot shared by the
// targeting and bandit evaluators (§3: Configuration). It intentionally sits
// above both: targeting and bandit take raw maps as explicit parameters so
// neither package needs to import this one (bandit builds on targeting
// directly), keeping the
// dependency graph a DAG while still giving callers (configstore,
// configfetch, and the root client) a single snapshot type to pass around.
package config

import (
	"encoding/json"
	"time"

	"github.com/alextanhongpin/flagcore/bandit"
	"github.com/alextanhongpin/flagcore/targeting"
)

// Snapshot is one fetched configuration: every flag and bandit model known
// at FetchedAt, plus the table binding bandit variations to bandit keys.
type Snapshot struct {
	Metadata                 targeting.Metadata
	Flags                    map[string]targeting.RawFlag
	Bandits                  map[string]bandit.Model
	FlagToBanditAssociations bandit.Associations
	FetchedAt                time.Time
}

// Age reports how long ago the snapshot was fetched, relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

// wireResponse is the wire shape of the flag config response: each flag
// body is kept raw and decoded independently via targeting.ParseFlag so a
// malformed flag doesn't invalidate the rest of the snapshot.
type wireResponse struct {
	Format          string                     `json:"format"`
	Environment     wireEnvironment            `json:"environment"`
	CreatedAt       time.Time                  `json:"createdAt"`
	Flags           map[string]json.RawMessage `json:"flags"`
}

type wireEnvironment struct {
	Name string `json:"name"`
}

type wireBanditResponse struct {
	Bandits map[string]bandit.Model `json:"bandits"`
}

type wireBanditVariation struct {
	FlagKey      string `json:"flagKey"`
	VariationKey string `json:"variationValue"`
	Key          string `json:"key"`
}

type wireBanditFlagResponse struct {
	BanditFlags map[string][]wireBanditVariation `json:"bandits"`
}

// ParseFlags decodes the raw flag-config response body into a flag map,
// tolerating per-flag decode failures (§9 supplemented feature: one bad flag
// doesn't poison the snapshot).
func ParseFlags(body []byte) (map[string]targeting.RawFlag, targeting.Metadata, error) {
	var resp wireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, targeting.Metadata{}, err
	}

	flags := make(map[string]targeting.RawFlag, len(resp.Flags))
	for key, raw := range resp.Flags {
		flags[key] = targeting.ParseFlag(raw)
	}

	meta := targeting.Metadata{
		EnvironmentName: resp.Environment.Name,
		CreatedAt:       resp.CreatedAt,
		FormatVersion:   resp.Format,
	}
	return flags, meta, nil
}

// ParseBanditModels decodes the raw bandit-models response body.
func ParseBanditModels(body []byte) (map[string]bandit.Model, error) {
	var resp wireBanditResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Bandits, nil
}

// ParseBanditAssociations decodes the bandit-flag association table carried
// alongside the flag-config response: per flag, the list of (variation,
// bandit key) pairs is pivoted into the variation-keyed lookup table bandit.
// Evaluate consumes.
func ParseBanditAssociations(body []byte) (bandit.Associations, error) {
	var resp wireBanditFlagResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := make(bandit.Associations, len(resp.BanditFlags))
	for banditKey, variations := range resp.BanditFlags {
		for _, v := range variations {
			byVariation, ok := out[v.FlagKey]
			if !ok {
				byVariation = make(map[string]string)
				out[v.FlagKey] = byVariation
			}
			byVariation[v.VariationKey] = banditKey
		}
	}
	return out, nil
}
