package registry

import (
	"bytes"
	"sort"

	"github.com/mosaicnetworks/mnregistry/src/chain"
	"github.com/mosaicnetworks/mnregistry/src/crypto"
)

// EntryScore pairs an entry with its selection score for one modifier.
type EntryScore struct {
	Entry *Entry
	Score chain.Hash
}

// Score computes an entry's selection score for the given modifier. Entries
// that have reached chain confirmation score with their confirmed-hash
// commitment, which binds the score to the confirmation block; unconfirmed
// entries fall back to their bare identity so that young registries can
// still fill quorums.
func (e *Entry) Score(modifier chain.Hash) chain.Hash {
	input := e.State.ConfirmedHashWithIdentity
	if e.State.ConfirmedHash.IsZero() {
		input = e.Identity
	}
	var buf bytes.Buffer
	buf.Write(modifier[:])
	buf.Write(input[:])
	return chain.NewHash(crypto.SHA256(buf.Bytes()))
}

// CalculateScores returns the scores of every valid entry for one modifier.
// The result order is the index iteration order; callers sort as needed.
func (l *List) CalculateScores(modifier chain.Hash) []EntryScore {
	scores := make([]EntryScore, 0, l.Count())
	l.ForEach(true, func(e *Entry) {
		scores = append(scores, EntryScore{Entry: e, Score: e.Score(modifier)})
	})
	return scores
}

// CalculateQuorum deterministically selects up to maxSize valid entries for
// the given modifier. Entries are ordered by ascending score, ties broken by
// identity; two nodes holding equal lists always derive the same quorum.
func (l *List) CalculateQuorum(maxSize int, modifier chain.Hash) []*Entry {
	scores := l.CalculateScores(modifier)
	sort.Slice(scores, func(i, j int) bool {
		if c := scores[i].Score.Compare(scores[j].Score); c != 0 {
			return c < 0
		}
		return scores[i].Entry.Identity.Compare(scores[j].Entry.Identity) < 0
	})
	if len(scores) > maxSize {
		scores = scores[:maxSize]
	}
	quorum := make([]*Entry, len(scores))
	for i, s := range scores {
		quorum[i] = s.Entry
	}
	return quorum
}

// compareByLastPaid orders entries by payment priority: least recently paid
// first, older registrations first among the never-paid, identity as the
// final tie-break.
func compareByLastPaid(a, b *Entry) bool {
	if a.State.LastPaidHeight != b.State.LastPaidHeight {
		return a.State.LastPaidHeight < b.State.LastPaidHeight
	}
	if a.State.RegisteredHeight != b.State.RegisteredHeight {
		return a.State.RegisteredHeight < b.State.RegisteredHeight
	}
	return a.Identity.Compare(b.Identity) < 0
}

// GetPayee returns the valid entry next in line for a block reward, or nil
// when the registry has no valid entries.
func (l *List) GetPayee() *Entry {
	var best *Entry
	l.ForEach(true, func(e *Entry) {
		if best == nil || compareByLastPaid(e, best) {
			best = e
		}
	})
	return best
}

// GetProjectedPayees returns the next count payees in payment order. The
// projection assumes the valid set stays fixed, so it is an approximation:
// future registrations, bans and revivals will perturb the real schedule.
func (l *List) GetProjectedPayees(count int) []*Entry {
	entries := make([]*Entry, 0, l.Count())
	l.ForEach(true, func(e *Entry) {
		entries = append(entries, e)
	})
	sort.Slice(entries, func(i, j int) bool {
		return compareByLastPaid(entries[i], entries[j])
	})
	if len(entries) > count {
		entries = entries[:count]
	}
	return entries
}
