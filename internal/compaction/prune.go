package compaction

import "coda/internal/message"

// Prunable returns the call ids of tool outputs old enough to compact.
// Walking from the newest output back, the first PruneProtectTokens are kept;
// the walk stops at a summary or an already compacted output. Nothing is
// returned unless the candidates add up to PruneMinimumTokens.
func Prunable(msgs []message.Message, cfg Config) []string {
	var ids []string
	protected, pruned := 0, 0

walk:
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Tag == message.TagSummary {
			break
		}
		for j := len(m.Parts) - 1; j >= 0; j-- {
			p := m.Parts[j]
			if p.Kind != message.PartToolCall || p.Output == nil {
				continue
			}
			if p.Output.Compacted {
				break walk
			}
			n := EstimateText(p.Output.Text)
			if protected+n <= cfg.PruneProtectTokens {
				protected += n
				continue
			}
			protected = cfg.PruneProtectTokens
			pruned += n
			ids = append(ids, p.CallID)
		}
	}
	if pruned < cfg.PruneMinimumTokens {
		return nil
	}
	return ids
}

// Prune marks old tool outputs compacted. It returns how many were marked.
func Prune(h *message.History, cfg Config) int {
	return MarkConsumed(h, Prunable(h.Messages(), cfg))
}

// Outputs returns the call ids whose output is currently visible to the model.
func Outputs(msgs []message.Message) []string {
	var ids []string
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Kind == message.PartToolCall && p.Output != nil && !p.Output.Compacted {
				ids = append(ids, p.CallID)
			}
		}
	}
	return ids
}

// MarkConsumed marks the outputs of callIDs compacted once the model has
// seen them. It returns how many changed.
func MarkConsumed(h *message.History, callIDs []string) int {
	n := 0
	for _, id := range callIDs {
		if h.MarkCompacted(id) {
			n++
		}
	}
	return n
}
