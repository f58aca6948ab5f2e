package membership

import (
	"strings"
	"time"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
)

// defaultPlanKeywords are matched against name and slug when no default plan
// is configured. Only used to bootstrap deployments that predate the setting.
var defaultPlanKeywords = []string{"free", "basic", "starter", "base"}

// guessDefaultPlan picks the catalog's free tier: the cheapest plan whose name
// matches the earliest keyword, else the cheapest plan overall.
func guessDefaultPlan(types []models.MembershipType) *models.MembershipType {
	if len(types) == 0 {
		return nil
	}
	for _, kw := range defaultPlanKeywords {
		var best *models.MembershipType
		for i := range types {
			t := &types[i]
			name := strings.ToLower(t.Name + " " + t.Slug)
			if !strings.Contains(name, kw) {
				continue
			}
			if best == nil || cheaper(t, best) {
				best = t
			}
		}
		if best != nil {
			return best
		}
	}
	best := &types[0]
	for i := range types[1:] {
		if cheaper(&types[i+1], best) {
			best = &types[i+1]
		}
	}
	return best
}

func cheaper(a, b *models.MembershipType) bool {
	if a.PriceCents != b.PriceCents {
		return a.PriceCents < b.PriceCents
	}
	return a.ID < b.ID
}

// tierBetter reports whether a grants a higher entitlement than b. Feature
// flagged plans beat base plans, then price decides. Unknown types rank last.
func tierBetter(a, b *models.MembershipType) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	case a.AdvancedFeatures != b.AdvancedFeatures:
		return a.AdvancedFeatures
	default:
		return a.PriceCents > b.PriceCents
	}
}

func sameTier(a, b *models.MembershipType) bool {
	return !tierBetter(a, b) && !tierBetter(b, a)
}

// newer orders records by start, then creation time, then id.
func newer(a, b *models.MembershipRecord) bool {
	if !a.StartAt.Equal(b.StartAt) {
		return a.StartAt.After(b.StartAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// latestOfType returns the most recently created record of typeID.
func latestOfType(records []models.MembershipRecord, typeID uint) *models.MembershipRecord {
	var found *models.MembershipRecord
	for i := range records {
		r := &records[i]
		if r.MembershipTypeID != typeID {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) || (r.CreatedAt.Equal(found.CreatedAt) && r.ID > found.ID) {
			found = r
		}
	}
	return found
}

func findRecord(records []models.MembershipRecord, id uint) *models.MembershipRecord {
	for i := range records {
		if records[i].ID == id {
			return &records[i]
		}
	}
	return nil
}

// mostRecentValid is the sweep's pick: the active unexpired record with the
// latest start.
func mostRecentValid(records []models.MembershipRecord, now time.Time) *models.MembershipRecord {
	var best *models.MembershipRecord
	for i := range records {
		r := &records[i]
		if !r.IsValidAt(now) {
			continue
		}
		if best == nil || newer(r, best) {
			best = r
		}
	}
	return best
}

// bestByTier is the repair pick among records accepted by keep: highest tier
// first, most recent start on ties.
func bestByTier(records []models.MembershipRecord, catalog map[uint]*models.MembershipType, keep func(*models.MembershipRecord) bool) *models.MembershipRecord {
	var best *models.MembershipRecord
	for i := range records {
		r := &records[i]
		if !keep(r) {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		rt, bt := catalog[r.MembershipTypeID], catalog[best.MembershipTypeID]
		if tierBetter(rt, bt) || (sameTier(rt, bt) && newer(r, best)) {
			best = r
		}
	}
	return best
}

// repairCandidate walks the repair priority list and returns the record to
// keep, or nil when a fallback grant is needed.
func repairCandidate(records []models.MembershipRecord, catalog map[uint]*models.MembershipType, now time.Time) *models.MembershipRecord {
	known := func(r *models.MembershipRecord) bool {
		return r.IsValidAt(now) && catalog[r.MembershipTypeID] != nil
	}
	if c := bestByTier(records, catalog, known); c != nil {
		return c
	}
	activeUnexpired := func(r *models.MembershipRecord) bool {
		return r.IsValidAt(now)
	}
	if c := bestByTier(records, catalog, activeUnexpired); c != nil {
		return c
	}
	unexpired := func(r *models.MembershipRecord) bool {
		return !r.IsExpiredAt(now)
	}
	return bestByTier(records, catalog, unexpired)
}

func catalogIndex(types []models.MembershipType) map[uint]*models.MembershipType {
	idx := make(map[uint]*models.MembershipType, len(types))
	for i := range types {
		idx[types[i].ID] = &types[i]
	}
	return idx
}
