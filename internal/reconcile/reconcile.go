// Package reconcile computes the inserts and deletes that bring a portfolio's
// persisted positions in line with a freshly scraped snapshot.
//
// Identity is the position fingerprint, never a store or source id, so a
// position whose source id churned but whose fingerprint is unchanged is
// considered already known.
package reconcile

import "github.com/amirphl/portfolio-sync/internal/position"

// Delta is the outcome of one reconciliation.
type Delta struct {
	Inserted []position.Position
	Deleted  []position.Position
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Inserted) == 0 && len(d.Deleted) == 0
}

// Reconcile returns the scraped positions whose fingerprint is not persisted
// and the persisted positions whose fingerprint was not scraped.
//
// Both inputs must belong to the same portfolio and carry fingerprints.
// Input order is preserved and duplicates are kept as they are.
func Reconcile(scraped, persisted []position.Position) (toInsert, toDelete []position.Position) {
	known := position.Fingerprints(persisted)
	seen := position.Fingerprints(scraped)

	toInsert = make([]position.Position, 0)
	for _, p := range scraped {
		if _, ok := known[p.Fingerprint]; !ok {
			toInsert = append(toInsert, p)
		}
	}

	toDelete = make([]position.Position, 0)
	for _, p := range persisted {
		if _, ok := seen[p.Fingerprint]; !ok {
			toDelete = append(toDelete, p)
		}
	}

	return toInsert, toDelete
}

// Compute is Reconcile packaged as a Delta.
func Compute(scraped, persisted []position.Position) Delta {
	ins, del := Reconcile(scraped, persisted)
	return Delta{Inserted: ins, Deleted: del}
}

// Apply returns the fingerprints a store would hold after applying d to
// persisted. It mirrors what the gateway does and is used to verify a run.
func Apply(persisted []position.Position, d Delta) []string {
	removed := position.Fingerprints(d.Deleted)
	out := make([]string, 0, len(persisted)+len(d.Inserted))
	for _, p := range persisted {
		if _, ok := removed[p.Fingerprint]; ok {
			continue
		}
		out = append(out, p.Fingerprint)
	}
	for _, p := range d.Inserted {
		out = append(out, p.Fingerprint)
	}
	return out
}
