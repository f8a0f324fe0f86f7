package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

var _ store.Repository = (*Repository)(nil)

// TestRepositoryTopicLifecycle verifies save, update, list and delete semantics.
func TestRepositoryTopicLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepository()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first := topic.Topic{ID: "b", Name: "Robotics", CreatedAt: base,
		Sources: []topic.Source{{ID: "s1", URL: "https://example.com/feed"}}}
	second := topic.Topic{ID: "a", Name: "Energy", CreatedAt: base.Add(time.Hour)}

	require.NoError(t, repo.SaveTopic(ctx, first))
	require.NoError(t, repo.SaveTopic(ctx, second))
	require.Error(t, repo.SaveTopic(ctx, first))

	listed, err := repo.ListTopics(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, []string{listed[0].ID, listed[1].ID})

	first.Status = topic.StatusArchived
	require.NoError(t, repo.UpdateTopic(ctx, first))
	got, err := repo.GetTopic(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, topic.StatusArchived, got.Status)

	sources, err := repo.GetSources(ctx, "b")
	require.NoError(t, err)
	require.Len(t, sources, 1)

	require.ErrorIs(t, repo.UpdateTopic(ctx, topic.Topic{ID: "missing"}), store.ErrNotFound)
	require.NoError(t, repo.DeleteTopic(ctx, "b"))
	_, err = repo.GetTopic(ctx, "b")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetSources(ctx, "b")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// TestRepositoryArticlesDeduplicateAndFilter verifies hash dedupe, since filtering and ordering.
func TestRepositoryArticlesDeduplicateAndFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepository()
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	low := topic.Article{Item: topic.Item{ID: "1", ContentHash: "h1", ScrapedAt: now}, Scores: topic.Scores{Importance: 61}}
	high := topic.Article{Item: topic.Item{ID: "2", ContentHash: "h2", ScrapedAt: now}, Scores: topic.Scores{Importance: 90}}
	old := topic.Article{Item: topic.Item{ID: "3", ContentHash: "h3", ScrapedAt: now.AddDate(0, 0, -8)}}

	for _, a := range []topic.Article{low, high, old} {
		created, err := repo.SaveArticle(ctx, "t1", a)
		require.NoError(t, err)
		require.True(t, created)
	}
	created, err := repo.SaveArticle(ctx, "t1", low)
	require.NoError(t, err)
	require.False(t, created)

	got, err := repo.GetArticles(ctx, "t1", now.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2", got[0].ID)
	require.Equal(t, "t1", got[0].TopicID)

	other, err := repo.GetArticles(ctx, "t2", time.Time{})
	require.NoError(t, err)
	require.Empty(t, other)
}

// TestRepositoryRuns verifies run start, completion and newest-first listing.
func TestRepositoryRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepository()
	start := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)

	require.NoError(t, repo.StartRun(ctx, store.RunRecord{ID: "r1", TopicID: "t1", Cadence: topic.CadenceDaily, StartedAt: start}))
	require.NoError(t, repo.StartRun(ctx, store.RunRecord{ID: "r2", TopicID: "t1", Cadence: topic.CadenceWeekly, StartedAt: start.Add(time.Hour)}))
	require.NoError(t, repo.StartRun(ctx, store.RunRecord{ID: "r3", TopicID: "t2", StartedAt: start}))

	finished := start.Add(time.Minute)
	require.NoError(t, repo.CompleteRun(ctx, store.RunRecord{
		ID: "r1", TopicID: "t1", Cadence: topic.CadenceDaily, Status: store.RunFailed,
		FinishedAt: &finished, Error: "scrape failed",
	}))

	run, err := repo.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, run.Status)
	require.Equal(t, start, run.StartedAt)

	runs, err := repo.ListRuns(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "r2", runs[0].ID)
	require.Equal(t, store.RunRunning, runs[0].Status)

	limited, err := repo.ListRuns(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	_, err = repo.GetRun(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}
