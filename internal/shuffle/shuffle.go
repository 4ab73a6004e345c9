// Package shuffle provides the reordering algorithms used by shuffle jobs.
//
// Every [Algorithm] returns a permutation of its input: the same tracks, each exactly once.
package shuffle

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
)

// Algorithm computes a new order for a playlist's tracks.
type Algorithm interface {
	Name() string
	Order(tracks []models.Track, params map[string]any) ([]models.Track, error)
}

var registry = map[string]Algorithm{
	"random":        Random{},
	"artist_spread": ArtistSpread{},
	"newest_first":  ByAdded{Newest: true},
	"oldest_first":  ByAdded{},
}

// Lookup returns the algorithm registered under name.
func Lookup(name string) (Algorithm, error) {
	alg, ok := registry[name]
	if !ok {
		return nil, shared.NewValidationError("params.algorithm", "unknown algorithm %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return alg, nil
}

// Names lists registered algorithms in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that name exists and params are acceptable to it.
func Validate(name string, params map[string]any) error {
	if _, err := Lookup(name); err != nil {
		return err
	}
	if _, err := newRand(params); err != nil {
		return err
	}
	return nil
}

// Moved counts positions whose track differs between two orders.
func Moved(before, after []models.Track) int {
	n := 0
	for i := range before {
		if i >= len(after) || before[i].ID != after[i].ID {
			n++
		}
	}
	return n
}

// newRand returns a generator seeded from params["seed"] when present.
func newRand(params map[string]any) (*rand.Rand, error) {
	raw, ok := params["seed"]
	if !ok {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), nil
	}

	var seed uint64
	switch v := raw.(type) {
	case float64:
		seed = uint64(v)
	case int:
		seed = uint64(v)
	case int64:
		seed = uint64(v)
	case uint64:
		seed = v
	default:
		return nil, shared.NewValidationError("params.algorithm_params.seed", "must be a number, got %T", raw)
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), nil
}

// Random is a uniform Fisher-Yates shuffle.
type Random struct{}

func (Random) Name() string { return "random" }

func (Random) Order(tracks []models.Track, params map[string]any) ([]models.Track, error) {
	r, err := newRand(params)
	if err != nil {
		return nil, err
	}

	out := slices.Clone(tracks)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// ArtistSpread shuffles while keeping tracks by the same primary artist apart.
//
// At each step it takes from the artist with the most remaining tracks that differs from
// the previous pick; adjacency only happens when a single artist is left.
type ArtistSpread struct{}

func (ArtistSpread) Name() string { return "artist_spread" }

func (ArtistSpread) Order(tracks []models.Track, params map[string]any) ([]models.Track, error) {
	r, err := newRand(params)
	if err != nil {
		return nil, err
	}

	groups := map[string][]models.Track{}
	var artists []string
	for _, t := range tracks {
		key := strings.ToLower(t.PrimaryArtist())
		if _, ok := groups[key]; !ok {
			artists = append(artists, key)
		}
		groups[key] = append(groups[key], t)
	}

	r.Shuffle(len(artists), func(i, j int) { artists[i], artists[j] = artists[j], artists[i] })
	for _, g := range groups {
		r.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
	}

	out := make([]models.Track, 0, len(tracks))
	last := ""
	for len(out) < len(tracks) {
		pick := ""
		for _, a := range artists {
			if len(groups[a]) == 0 || (a == last && len(out) > 0) {
				continue
			}
			if pick == "" || len(groups[a]) > len(groups[pick]) {
				pick = a
			}
		}
		if pick == "" {
			pick = last
		}

		out = append(out, groups[pick][0])
		groups[pick] = groups[pick][1:]
		last = pick
	}

	return out, nil
}

// ByAdded orders by the time tracks were added to the playlist. Ties keep their current order.
type ByAdded struct {
	Newest bool
}

func (b ByAdded) Name() string {
	if b.Newest {
		return "newest_first"
	}
	return "oldest_first"
}

func (b ByAdded) Order(tracks []models.Track, params map[string]any) ([]models.Track, error) {
	out := slices.Clone(tracks)
	slices.SortStableFunc(out, func(x, y models.Track) int {
		if b.Newest {
			return y.AddedAt.Compare(x.AddedAt)
		}
		return x.AddedAt.Compare(y.AddedAt)
	})
	return out, nil
}

// Apply runs the named algorithm and verifies the result is a permutation of tracks.
func Apply(name string, tracks []models.Track, params map[string]any) ([]models.Track, error) {
	alg, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	out, err := alg.Order(tracks, params)
	if err != nil {
		return nil, err
	}

	if !samePermutation(tracks, out) {
		return nil, fmt.Errorf("algorithm %s changed the track set", alg.Name())
	}
	return out, nil
}

func samePermutation(a, b []models.Track) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t.ID]++
	}
	for _, t := range b {
		counts[t.ID]--
		if counts[t.ID] < 0 {
			return false
		}
	}
	return true
}
