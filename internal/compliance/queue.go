package compliance

import (
	"context"
)

// QueueEntry is one contact attempt waiting in a call queue.
type QueueEntry struct {
	LeadID   string `json:"leadId"`
	Phone    string `json:"phone" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
	Override bool   `json:"override"`
}

// BlockedEntry is a queue entry the gate refused, with its reasons.
type BlockedEntry struct {
	Reasons []string `json:"reasons"`
	QueueEntry
}

// FilterResult splits a queue into entries that may be dialed and entries
// that may not. Allowed keeps the input order.
type FilterResult struct {
	Allowed []QueueEntry   `json:"allowed"`
	Blocked []BlockedEntry `json:"blocked"`
}

// FilterQueue asks the gate about every entry. A gate error blocks the entry;
// nothing reaches Allowed without an explicit allow decision.
func FilterQueue(ctx context.Context, gate Gate, entries []QueueEntry) FilterResult {
	result := FilterResult{
		Allowed: make([]QueueEntry, 0, len(entries)),
		Blocked: []BlockedEntry{},
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			result.Blocked = append(result.Blocked, BlockedEntry{QueueEntry: entry, Reasons: []string{ReasonGateUnavailable}})
			continue
		}

		decision, err := gate.IsContactAllowed(ctx, entry.Phone, entry.UserID, entry.Override)
		if err != nil {
			result.Blocked = append(result.Blocked, BlockedEntry{QueueEntry: entry, Reasons: []string{ReasonGateUnavailable}})
			continue
		}
		if !decision.Allowed {
			reasons := decision.Reasons
			if reasons == nil {
				reasons = []string{}
			}
			result.Blocked = append(result.Blocked, BlockedEntry{QueueEntry: entry, Reasons: reasons})
			continue
		}
		result.Allowed = append(result.Allowed, entry)
	}
	return result
}
