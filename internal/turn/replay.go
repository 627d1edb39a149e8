// SPDX-License-Identifier: MIT

package turn

import (
	"sort"

	"github.com/ManuGH/lowroll/internal/apperr"
	"github.com/ManuGH/lowroll/internal/prng"
	"github.com/ManuGH/lowroll/internal/rules"
)

// Replay reconstructs every roll from the dice seed and re-scores the log,
// returning per-player totals. It fails if any entry's points or ID disagree
// with the reconstruction, which would mean the log was tampered with or the
// seed does not match. Pure: no clocks, no I/O.
func Replay(sessionID, seed string, pool rules.PoolConfig, entries []ScoreEntry) (map[string]int, error) {
	ordered := append([]ScoreEntry(nil), entries...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].RollIndex < ordered[j].RollIndex })

	pools := make(map[string][]rules.Die)
	totals := make(map[string]int)

	for _, entry := range ordered {
		p, ok := pools[entry.PlayerID]
		if !ok {
			p = rules.BuildPool(pool)
			pools[entry.PlayerID] = p
		}

		// Re-roll the remaining dice exactly as the engine did.
		rng := prng.New(prng.RollSeed(seed, entry.RollIndex))
		for i := range p {
			if p[i].InPlay && !p[i].Scored {
				p[i].Value = rng.Roll(rules.MaxFace(p[i].Kind))
			}
		}

		points, err := rules.ScoreSelection(p, entry.Selection)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "replay rescore failed", err)
		}
		if points != entry.Points {
			return nil, apperr.Ef(apperr.KindInternal, "replay points mismatch for entry %s: %d != %d", entry.ID, points, entry.Points)
		}
		if want := EntryID(sessionID, entry.PlayerID, entry.RollIndex, entry.Selection); want != entry.ID {
			return nil, apperr.Ef(apperr.KindInternal, "replay id mismatch for entry %s", entry.ID)
		}

		for _, dieID := range entry.Selection {
			for i := range p {
				if p[i].ID == dieID {
					p[i].Scored = true
				}
			}
		}
		totals[entry.PlayerID] += points
	}
	return totals, nil
}
