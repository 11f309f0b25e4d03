package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrapedEvent(url string) *OutboxEvent {
	return &OutboxEvent{
		AggregateType: "wheel_product",
		AggregateID:   url,
		EventType:     "PRODUCT_SCRAPED",
		Payload:       json.RawMessage(`{"url":"` + url + `","sku":"52910-3W200"}`),
		TargetStream:  DefaultStream,
	}
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("successful insert with transaction", func(t *testing.T) {
		event := scrapedEvent("https://www.kiapartsnow.com/oem/a.html")

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, 0, event.RetryCount)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("defaults target stream", func(t *testing.T) {
		event := scrapedEvent("https://www.kiapartsnow.com/oem/b.html")
		event.TargetStream = ""

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})

		require.NoError(t, err)
		assert.Equal(t, "stream:scrape_lifecycle", event.TargetStream)
	})

	t.Run("rollback on transaction failure", func(t *testing.T) {
		event := scrapedEvent("https://www.kiapartsnow.com/oem/rollback.html")

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return assert.AnError
		})

		assert.Error(t, err)

		events, err := repo.GetPending(ctx, 100)
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, event.AggregateID, e.AggregateID)
		}
	})
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	now := time.Now()
	byStatus := map[string]string{
		"https://example.com/pending-1": OutboxStatusPending,
		"https://example.com/processed": OutboxStatusProcessed,
		"https://example.com/pending-2": OutboxStatusPending,
		"https://example.com/failed":    OutboxStatusFailed,
	}
	for url, status := range byStatus {
		event := scrapedEvent(url)
		event.Status = status
		event.NextRetryAt = &now
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		require.NoError(t, err)
	}

	t.Run("returns pending and failed only", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 3)
		for _, e := range pending {
			assert.Contains(t, []string{OutboxStatusPending, OutboxStatusFailed}, e.Status)
		}
	})

	t.Run("respects limit and creation order", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
		for i := 1; i < len(pending); i++ {
			assert.False(t, pending[i].CreatedAt.Before(pending[i-1].CreatedAt))
		}
	})

	t.Run("respects next_retry_at", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		_, err := db.pool.Exec(ctx,
			"UPDATE outbox_event SET next_retry_at = $1 WHERE aggregate_id = $2",
			future, "https://example.com/failed")
		require.NoError(t, err)

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotEqual(t, "https://example.com/failed", e.AggregateID)
		}
	})
}

func TestOutboxRepository_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	event := scrapedEvent("https://example.com/mark")
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	})
	require.NoError(t, err)

	t.Run("mark as processed", func(t *testing.T) {
		require.NoError(t, repo.MarkProcessed(ctx, event.ID))

		var status string
		var processedAt *time.Time
		err = db.pool.QueryRow(ctx,
			"SELECT status, processed_at FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &processedAt)
		require.NoError(t, err)

		assert.Equal(t, OutboxStatusProcessed, status)
		require.NotNil(t, processedAt)
		assert.Less(t, time.Since(*processedAt), time.Minute)
	})

	t.Run("mark non-existent event", func(t *testing.T) {
		assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
	})
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("increment retry count and set backoff", func(t *testing.T) {
		event := scrapedEvent("https://example.com/fail-once")
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		require.NoError(t, err)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		var errorMsg *string
		var nextRetry *time.Time
		err = db.pool.QueryRow(ctx,
			"SELECT status, retry_count, error_message, next_retry_at FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount, &errorMsg, &nextRetry)
		require.NoError(t, err)

		assert.Equal(t, OutboxStatusFailed, status)
		assert.Equal(t, 1, retryCount)
		require.NotNil(t, errorMsg)
		assert.Contains(t, *errorMsg, "assert.AnError")
		require.NotNil(t, nextRetry)
		assert.True(t, nextRetry.After(time.Now()))
	})

	t.Run("move to dead letter after max retries", func(t *testing.T) {
		event := scrapedEvent("https://example.com/dead-letter")
		event.RetryCount = MaxRetryCount - 1
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		require.NoError(t, err)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		err = db.pool.QueryRow(ctx,
			"SELECT status, retry_count FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount)
		require.NoError(t, err)

		assert.Equal(t, OutboxStatusDeadLetter, status)
		assert.Equal(t, MaxRetryCount, retryCount)
	})
}
