package services

import (
	"context"
	"strings"

	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/models"
	"github.com/retava/chatdesk/internal/pkg/logger"
)

const knowledgeLimit = 5

// KnowledgeRetriever looks up canned Q&A entries for a customer query and
// renders them into a prompt-ready context block.
type KnowledgeRetriever struct {
	store core.Store
	log   *logger.Logger
}

func NewKnowledgeRetriever(store core.Store, log *logger.Logger) *KnowledgeRetriever {
	return &KnowledgeRetriever{store: store, log: log}
}

// Retrieve matches active entries by substring against question and answer
// text, optionally scoped to a category, ordered by descending confidence
// (entries without a score sort last), capped at 5. Failures degrade to an
// empty list. Returned entries get their usage counters bumped.
func (k *KnowledgeRetriever) Retrieve(ctx context.Context, query, category string) []models.KnowledgeEntry {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	entries, err := k.store.SearchKnowledge(ctx, query, category, knowledgeLimit)
	if err != nil {
		k.log.Warn("knowledge search failed", "error", err)
		return nil
	}

	for _, e := range entries {
		if err := k.store.IncrementKnowledgeUsage(ctx, e.ID); err != nil {
			k.log.Warn("knowledge usage increment failed", "entry_id", e.ID, "error", err)
		}
	}
	return entries
}

// BuildContext renders entries into a text block for the system prompt, or
// an empty string when there is nothing to add.
func (k *KnowledgeRetriever) BuildContext(ctx context.Context, query, category string) string {
	entries := k.Retrieve(ctx, query, category)
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant knowledge:\n")
	for _, e := range entries {
		b.WriteString("Q: ")
		b.WriteString(e.Question)
		b.WriteString("\nA: ")
		b.WriteString(e.Answer)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
