// Package bans generates the per-match ban list: a fixed number of
// (stake, deck) pairs picked by weighted random sampling under per-item
// occurrence caps.
package bans

import (
	"log"
	"math/rand"
	"sort"
	"strings"

	"github.com/balatromm/rankbot/app/store"
	"github.com/samber/lo"
)

// WhiteStake is the stake guaranteed to appear in every complete ban set.
const WhiteStake = "White Stake"

const (
	maxPickAttempts = 100 // per single stake/deck pick
	maxSetAttempts  = 50  // per whole ban set
)

// Config is the full input of one generation. Multipliers default to 1 for
// items without an entry; Rand defaults to math/rand.
type Config struct {
	Decks            []store.Deck
	Stakes           []store.Stake
	DeckMultipliers  map[int64]float64
	StakeMultipliers map[string]float64
	CombinedEmotes   map[string]string // keyed by EmoteKey(deck, stake)
	Count            int               // tuples to generate, default 7
	Rand             func() float64    // uniform [0,1)
}

func (c Config) count() int {
	if c.Count == 0 {
		return 7
	}
	return c.Count
}

func (c Config) random() func() float64 {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Float64
}

// Tuple is one banned (stake, deck) combination with its display emote.
type Tuple struct {
	Stake store.Stake
	Deck  store.Deck
	Emote string
}

// Result is a generated ban set. Partial marks a degraded set shorter than
// requested; callers use it as-is.
type Result struct {
	Tuples  []Tuple
	Partial bool
}

// Generate builds a ban set for one match. Constraint violations are retried
// with bounded attempts; an infeasible configuration yields a partial result,
// never an error.
func Generate(cfg Config) Result {
	count := cfg.count()
	if len(cfg.Decks) == 0 || len(cfg.Stakes) == 0 {
		log.Printf("[WARN] ban generation: empty deck or stake pool")
		return Result{Partial: true}
	}

	var tuples []Tuple
	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		var ok bool
		if tuples, ok = generateSet(cfg, count); ok {
			sortTuples(tuples)
			return Result{Tuples: tuples}
		}
	}

	log.Printf("[ERROR] ban generation gave up after %d attempts, returning %d of %d tuples",
		maxSetAttempts, len(tuples), count)
	sortTuples(tuples)
	return Result{Tuples: tuples, Partial: true}
}

// generateSet builds one full set, reporting failure when a pick gets stuck.
func generateSet(cfg Config, count int) ([]Tuple, bool) {
	rnd := cfg.random()
	stakeCap := (count - 1) / 2
	deckCap := (count - 3) / 2

	var tuples []Tuple
	for len(tuples) < count {
		stake, ok := pickStake(cfg, rnd, tuples, count, stakeCap)
		if !ok {
			return tuples, false
		}

		deck, ok := pickDeck(cfg, rnd, tuples, stake, deckCap)
		if !ok {
			return tuples, false
		}

		tuples = append(tuples, Tuple{
			Stake: stake,
			Deck:  deck,
			Emote: emote(cfg, deck, stake),
		})
	}
	return tuples, true
}

// pickStake samples a stake under the occurrence cap. The second-to-last slot
// is forced to White Stake when none has been picked yet, so every complete
// set keeps at least one baseline-difficulty ban.
func pickStake(cfg Config, rnd func() float64, tuples []Tuple, count, limit int) (store.Stake, bool) {
	if len(tuples) == count-2 && !hasStake(tuples, WhiteStake) {
		if white, found := lo.Find(cfg.Stakes, func(s store.Stake) bool { return s.Name == WhiteStake }); found {
			return white, true
		}
	}

	for attempt := 0; attempt < maxPickAttempts; attempt++ {
		stake := selectOne(cfg.Stakes, func(s store.Stake) float64 {
			return multiplier(cfg.StakeMultipliers, s.Name)
		}, rnd())

		occurrences := lo.CountBy(tuples, func(t Tuple) bool { return t.Stake.Name == stake.Name })
		if occurrences < limit {
			return stake, true
		}
	}

	log.Printf("[WARN] stake pick stuck after %d attempts", maxPickAttempts)
	return store.Stake{}, false
}

// pickDeck samples a deck under the occurrence cap, also rejecting a
// (stake, deck) pair already present in the set.
func pickDeck(cfg Config, rnd func() float64, tuples []Tuple, stake store.Stake, limit int) (store.Deck, bool) {
	for attempt := 0; attempt < maxPickAttempts; attempt++ {
		deck := selectOne(cfg.Decks, func(d store.Deck) float64 {
			return multiplier(cfg.DeckMultipliers, d.ID)
		}, rnd())

		occurrences := lo.CountBy(tuples, func(t Tuple) bool { return t.Deck.ID == deck.ID })
		duplicate := lo.ContainsBy(tuples, func(t Tuple) bool {
			return t.Deck.ID == deck.ID && t.Stake.Name == stake.Name
		})
		if occurrences < limit && !duplicate {
			return deck, true
		}
	}

	log.Printf("[WARN] deck pick stuck after %d attempts", maxPickAttempts)
	return store.Deck{}, false
}

// selectOne picks an item with probability proportional to its weight: a
// cumulative stick over [0,1) indexed by a single uniform draw.
func selectOne[T any](items []T, weight func(T) float64, r float64) T {
	total := 0.0
	for _, it := range items {
		total += weight(it)
	}
	if total <= 0 {
		return items[int(r*float64(len(items)))%len(items)]
	}

	acc := 0.0
	for _, it := range items {
		acc += weight(it) / total
		if r < acc {
			return it
		}
	}
	return items[len(items)-1] // r landed on accumulated float error
}

func multiplier[K comparable](overrides map[K]float64, key K) float64 {
	if m, ok := overrides[key]; ok {
		return m
	}
	return 1
}

func hasStake(tuples []Tuple, name string) bool {
	return lo.ContainsBy(tuples, func(t Tuple) bool { return t.Stake.Name == name })
}

// emote resolves the display emote of a pair: a registered combined emote if
// there is one, the two separate emojis otherwise.
func emote(cfg Config, deck store.Deck, stake store.Stake) string {
	if combined, ok := cfg.CombinedEmotes[EmoteKey(deck.Name, stake.Name)]; ok {
		return combined
	}
	return stake.Emoji + deck.Emoji
}

// EmoteKey normalizes a deck+stake name pair into a combined-emote lookup key,
// e.g. ("Red Deck", "Gold Stake") -> "red_gold".
func EmoteKey(deckName, stakeName string) string {
	norm := func(s, suffix string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.TrimSuffix(s, suffix)
		return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
	}
	return norm(deckName, " deck") + "_" + norm(stakeName, " stake")
}

// sortTuples orders by stake then deck, for stable display only.
func sortTuples(tuples []Tuple) {
	sort.SliceStable(tuples, func(i, j int) bool {
		if tuples[i].Stake.ID != tuples[j].Stake.ID {
			return tuples[i].Stake.ID < tuples[j].Stake.ID
		}
		return tuples[i].Deck.ID < tuples[j].Deck.ID
	})
}
