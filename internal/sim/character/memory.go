package character

import (
	"context"
	"fmt"
	"strings"

	"tinytown.ai/internal/llm"
)

// Day summaries produced by compaction are tagged so later passes can tell
// them apart from fresh entries.
const summaryTag = " Summary]"

const memoryOptimizationSystem = `You are %s, performing a personal memory review at the end of the day.

Rules for Memory Summary (IMPORTANT):
1. Write in FIRST PERSON (I did, I felt, I learned, etc.) - these are YOUR memories.
2. Preserve critical facts, relationships, conversations, and goals from today.
3. ALWAYS include specific dates and times when available (e.g., "At 14:30 on July 28, I..." not "Later today...").
4. Keep temporal references concrete: use exact times, day names, or relative anchors (e.g., "this Friday", "tomorrow"), NOT vague terms like "later" or "soon".
5. MUST Write concisely in English (4-6 sentences max). Focus on what matters: goals, facts, relationships, and intentions.
6. If memories conflict, keep the most recent version.
7. Do not narrate; just record key events and their impact on your goals.`

const memoryOptimizationUser = `Today's Date: %s

My memory entries from today:
%s

Please write a concise first-person summary of today (in English) that preserves the most important facts, relationships, decisions, and goals. Use specific times and dates whenever possible.`

// IsSummaryEntry reports whether a memory entry is a prior day-summary.
func IsSummaryEntry(entry string) bool {
	return strings.HasPrefix(entry, "[") && strings.Contains(entry, summaryTag)
}

// OptimizeMemory compacts the memory stream: prior day-summaries are kept,
// fresh entries are summarized by the decision service into a single tagged
// entry. Compaction is best-effort; on any service error the memory is left
// exactly as it was. Fewer than 3 fresh entries is a no-op, since compacting
// a near-empty day degrades behavior.
func (c *Character) OptimizeMemory(ctx context.Context, svc llm.Service, currentDate string) error {
	if svc == nil {
		return nil
	}

	var summaries, fresh []string
	for _, entry := range c.Memory {
		if IsSummaryEntry(entry) {
			summaries = append(summaries, entry)
		} else {
			fresh = append(fresh, entry)
		}
	}
	if len(fresh) < 3 {
		return nil
	}

	system := fmt.Sprintf(memoryOptimizationSystem, c.Profile.Name)
	user := fmt.Sprintf(memoryOptimizationUser, currentDate, strings.Join(fresh, "\n"))

	summary, err := svc.Completion(ctx, system, user)
	if err != nil {
		return fmt.Errorf("optimize memory for %s: %w", c.Profile.Name, err)
	}

	c.Memory = append(summaries, fmt.Sprintf("[%s Summary] %s", currentDate, summary))
	c.LastOptimizedDate = currentDate
	return nil
}
