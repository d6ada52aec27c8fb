package rules

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/anthorai/ZYRA-AI-sub003/internal/types"
)

// Candidate is one (rule, entity) pair whose condition matched during an
// evaluation pass. It carries everything admission needs so that admitting
// a candidate is a pure decision over the candidate, the store settings,
// and the store's recent history.
type Candidate struct {
	StoreID         uuid.UUID
	RuleID          uuid.UUID
	RuleName        string
	Priority        int
	CooldownSeconds int

	ActionType string
	EntityType string
	EntityID   string

	// Outreach targeting; empty for catalog actions.
	RecipientEmail string
	RecipientPhone string
	Channel        string

	// CatalogSize is the number of governable entities of EntityType in the
	// store, sampled once per pass so the catalog-change-percent check stays
	// deterministic within the pass.
	CatalogSize int

	// Filled by the proposal generator before admission.
	Payload   datatypes.JSON
	Impact    types.ImpactEstimate
	Reasoning string

	MatchedAt time.Time
}

// DedupKey is the approval-queue collision key: the normalized recipient
// for outreach actions, the entity id otherwise.
func (c Candidate) DedupKey() string {
	if types.IsOutreachType(c.ActionType) {
		if c.Channel == types.ChannelSMS {
			return normalizeRecipient(c.RecipientPhone)
		}
		return normalizeRecipient(c.RecipientEmail)
	}
	return c.EntityID
}

// normalizeRecipient canonicalizes an address so the approval queue's
// uniqueness check sees "Jo@Shop.com " and "jo@shop.com" as one recipient.
// Phone numbers drop separator punctuation.
func normalizeRecipient(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if strings.ContainsRune(addr, '@') {
		return addr
	}
	var b strings.Builder
	b.Grow(len(addr))
	for _, r := range addr {
		switch r {
		case ' ', '-', '(', ')', '.':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SortCandidates orders by priority descending, then rule name and entity
// id for a stable tiebreak.
func SortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Priority != cands[j].Priority {
			return cands[i].Priority > cands[j].Priority
		}
		if cands[i].RuleName != cands[j].RuleName {
			return cands[i].RuleName < cands[j].RuleName
		}
		return cands[i].EntityID < cands[j].EntityID
	})
}
