package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retava/chatdesk/internal/models"
	"github.com/retava/chatdesk/internal/pkg/logger"
)

func TestKnowledgeRetrieveBumpsUsage(t *testing.T) {
	bumped := map[string]int{}
	store := &fakeStore{
		searchKnowledge: func(_ context.Context, query, category string, limit int) ([]models.KnowledgeEntry, error) {
			assert.Equal(t, "delivery time", query)
			assert.Equal(t, "shipping", category)
			assert.Equal(t, 5, limit)
			return []models.KnowledgeEntry{
				{ID: "k1", Question: "How long does delivery take?", Answer: "3-5 business days."},
				{ID: "k2", Question: "Do you ship nationwide?", Answer: "Yes."},
			}, nil
		},
		incrementKnowledgeUsage: func(_ context.Context, entryID string) error {
			bumped[entryID]++
			return nil
		},
	}
	k := NewKnowledgeRetriever(store, logger.NewNop())

	entries := k.Retrieve(context.Background(), "delivery time", "shipping")

	require.Len(t, entries, 2)
	assert.Equal(t, 1, bumped["k1"])
	assert.Equal(t, 1, bumped["k2"])
}

func TestKnowledgeRetrieveEmptyQuery(t *testing.T) {
	store := &fakeStore{
		searchKnowledge: func(_ context.Context, _, _ string, _ int) ([]models.KnowledgeEntry, error) {
			t.Fatal("store should not be queried for a blank query")
			return nil, nil
		},
	}
	k := NewKnowledgeRetriever(store, logger.NewNop())

	assert.Nil(t, k.Retrieve(context.Background(), "   ", ""))
}

func TestKnowledgeRetrieveFailureDegradesToEmpty(t *testing.T) {
	store := &fakeStore{
		searchKnowledge: func(_ context.Context, _, _ string, _ int) ([]models.KnowledgeEntry, error) {
			return nil, errStore
		},
	}
	k := NewKnowledgeRetriever(store, logger.NewNop())

	assert.Nil(t, k.Retrieve(context.Background(), "anything", ""))
}

func TestKnowledgeBuildContext(t *testing.T) {
	store := &fakeStore{
		searchKnowledge: func(_ context.Context, _, _ string, _ int) ([]models.KnowledgeEntry, error) {
			return []models.KnowledgeEntry{
				{ID: "k1", Question: "Q1?", Answer: "A1."},
				{ID: "k2", Question: "Q2?", Answer: "A2."},
			}, nil
		},
	}
	k := NewKnowledgeRetriever(store, logger.NewNop())

	block := k.BuildContext(context.Background(), "whatever", "")

	assert.Equal(t, "Relevant knowledge:\nQ: Q1?\nA: A1.\nQ: Q2?\nA: A2.", block)
}

func TestKnowledgeBuildContextEmpty(t *testing.T) {
	k := NewKnowledgeRetriever(&fakeStore{}, logger.NewNop())

	assert.Empty(t, k.BuildContext(context.Background(), "whatever", ""))
}
