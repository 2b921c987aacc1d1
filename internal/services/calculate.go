package services

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/vaultsync/vaultsync/internal/models"
)

// ConflictSide names the winner of a concurrent-edit conflict.
type ConflictSide int

const (
	SideLocal ConflictSide = iota
	SideRemote
)

// ConflictPolicy decides which side of a concurrent edit wins. It must be
// deterministic: re-running a calculation over identical snapshots has to
// pick the same winner on every replica.
type ConflictPolicy func(local, remote models.FileMetadata) ConflictSide

// PreferHigherVersion is the default policy: the higher metadata version
// wins; on a tie the server copy wins, which every replica resolves
// identically once it has pulled.
func PreferHigherVersion(local, remote models.FileMetadata) ConflictSide {
	if local.MetadataVersion > remote.MetadataVersion {
		return SideLocal
	}
	return SideRemote
}

// WorkCalculator diffs a local tree snapshot against a server snapshot into
// an ordered list of work units. Calculate is a pure function of its inputs:
// no hidden state, idempotent over unchanged snapshots.
type WorkCalculator struct {
	Policy ConflictPolicy
}

func NewWorkCalculator() *WorkCalculator {
	return &WorkCalculator{Policy: PreferHigherVersion}
}

// Calculate produces the work units for one sync pass. serverTime becomes
// the cursor lease recorded once the pass completes cleanly.
func (c *WorkCalculator) Calculate(local, remote []models.FileMetadata, serverTime int64) *models.WorkCalculated {
	localByID := make(map[string]models.FileMetadata, len(local))
	for _, m := range local {
		localByID[m.ID] = m
	}
	remoteByID := make(map[string]models.FileMetadata, len(remote))
	for _, m := range remote {
		remoteByID[m.ID] = m
	}

	ids := make([]string, 0, len(localByID)+len(remoteByID))
	for id := range localByID {
		ids = append(ids, id)
	}
	for id := range remoteByID {
		if _, ok := localByID[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var units []models.WorkUnit
	for _, id := range ids {
		l, haveLocal := localByID[id]
		r, haveRemote := remoteByID[id]

		switch {
		case haveLocal && !haveRemote:
			// Absent from the remote snapshot just means unchanged on the
			// server since the cursor; only pending local edits need work.
			if l.Pending() {
				units = append(units, models.WorkUnit{Kind: models.PushLocalChange, Meta: l})
			}

		case !haveLocal && haveRemote:
			units = append(units, models.WorkUnit{Kind: models.PullRemoteChange, Meta: r})

		default:
			units = append(units, c.diffBoth(l, r)...)
		}
	}

	orderParentFirst(units, localByID, remoteByID)
	return &models.WorkCalculated{Units: units, MostRecentUpdateFromServer: serverTime}
}

// diffBoth handles a file present in both snapshots. A conflict exists only
// when both sides moved past the common baseline; it is resolved by the
// policy, and a losing local content edit is preserved as a duplicate
// sibling rather than dropped.
func (c *WorkCalculator) diffBoth(l, r models.FileMetadata) []models.WorkUnit {
	localChanged := l.Pending()
	remoteChanged := r.MetadataVersion > l.SyncedMetadataVersion ||
		r.ContentVersion > l.SyncedContentVersion

	switch {
	case localChanged && !remoteChanged:
		return []models.WorkUnit{{Kind: models.PushLocalChange, Meta: l}}

	case remoteChanged && !localChanged:
		return []models.WorkUnit{{Kind: models.PullRemoteChange, Meta: r}}

	case localChanged && remoteChanged:
		if c.policy()(l, r) == SideLocal {
			return []models.WorkUnit{{Kind: models.PushLocalChange, Meta: l}}
		}
		units := []models.WorkUnit{{Kind: models.PullRemoteChange, Meta: r}}
		if l.ContentPending() && l.Type == models.FileTypeDocument && !l.Deleted {
			units = append(units, duplicateUnit(l))
		}
		return units

	default:
		return nil
	}
}

func (c *WorkCalculator) policy() ConflictPolicy {
	if c.Policy != nil {
		return c.Policy
	}
	return PreferHigherVersion
}

// duplicateUnit builds the push that preserves a losing local content edit
// under a disambiguated sibling name. The id is derived deterministically
// from the source so repeated calculations emit the same unit.
func duplicateUnit(l models.FileMetadata) models.WorkUnit {
	seed := fmt.Sprintf("%s:conflict:%d:%d", l.ID, l.MetadataVersion, l.ContentVersion)
	dupID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()

	dup := l
	dup.ID = dupID
	dup.Name = fmt.Sprintf("%s (conflict %s)", l.Name, dupID[:8])
	dup.MetadataVersion = 1
	dup.ContentVersion = 1
	dup.SyncedMetadataVersion = 0
	dup.SyncedContentVersion = 0
	dup.Signature = nil

	return models.WorkUnit{Kind: models.PushLocalChange, Meta: dup, DuplicateOf: l.ID}
}

// orderParentFirst sorts units so a folder's unit precedes its children's,
// falling back to id order between unrelated units for determinism. A
// duplicate push sorts directly before the pull of its source, which still
// holds the local content the duplicate is materialized from.
func orderParentFirst(units []models.WorkUnit, localByID, remoteByID map[string]models.FileMetadata) {
	// Resolve parents through the freshest view available: the unit set
	// itself, then the remote snapshot, then the local one.
	unitByID := make(map[string]models.FileMetadata, len(units))
	for _, u := range units {
		unitByID[u.Meta.ID] = u.Meta
	}
	lookup := func(id string) (models.FileMetadata, bool) {
		if m, ok := unitByID[id]; ok {
			return m, true
		}
		if m, ok := remoteByID[id]; ok {
			return m, true
		}
		m, ok := localByID[id]
		return m, ok
	}

	depth := func(m models.FileMetadata) int {
		d := 0
		cur := m
		for !cur.IsRoot() {
			parent, ok := lookup(cur.ParentID)
			if !ok || d >= maxTreeDepth {
				// Orphaned or too deep: order after everything resolvable.
				return maxTreeDepth + d
			}
			cur = parent
			d++
		}
		return d
	}

	sortID := func(u models.WorkUnit) string {
		if u.DuplicateOf != "" {
			return u.DuplicateOf
		}
		return u.Meta.ID
	}

	sort.SliceStable(units, func(i, j int) bool {
		di, dj := depth(units[i].Meta), depth(units[j].Meta)
		if di != dj {
			return di < dj
		}
		ki, kj := sortID(units[i]), sortID(units[j])
		if ki != kj {
			return ki < kj
		}
		return units[i].DuplicateOf != "" && units[j].DuplicateOf == ""
	})
}
