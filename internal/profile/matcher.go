package profile

import (
	"sort"

	"github.com/wyatt727/upnp-cli/internal/device"
)

// MatchResult is one scored (profile, device) pairing.
type MatchResult struct {
	Profile         *Profile `json:"profile"`
	Score           int      `json:"score"`
	PrimaryProtocol string   `json:"primary_protocol"`

	// longest matched substring, kept for tie-breaking
	specificity int
}

// Matcher ranks profiles against devices.
type Matcher struct {
	store *Store
}

// NewMatcher creates a matcher over a loaded store.
func NewMatcher(store *Store) *Matcher {
	return &Matcher{store: store}
}

// Match returns every eligible profile for the device, ranked by score
// descending. A profile is eligible when its score is positive, which
// for the generic fallback means the device exposes a MediaRenderer
// surface. Ties go to the profile with the more specific match string.
func (m *Matcher) Match(dev *device.Device) []MatchResult {
	var results []MatchResult
	for _, p := range m.store.Profiles() {
		score, longest := p.Score(dev)
		if score <= 0 {
			continue
		}
		results = append(results, MatchResult{
			Profile:         p,
			Score:           score,
			PrimaryProtocol: p.PrimaryProtocol(),
			specificity:     longest,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].specificity > results[j].specificity
	})
	return results
}

// Best returns the top-ranked match, or nil when nothing is eligible.
func (m *Matcher) Best(dev *device.Device) *MatchResult {
	results := m.Match(dev)
	if len(results) == 0 {
		return nil
	}
	return &results[0]
}
