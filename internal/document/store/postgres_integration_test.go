//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sunatflow/internal/document"
	"sunatflow/internal/document/store"
	id "sunatflow/pkg/domain"
	"sunatflow/pkg/platform/sentinel"
	"sunatflow/pkg/testutil/containers"
)

func TestPostgresDocumentStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	documents := store.NewPostgres(pg.Pool)
	ctx := context.Background()

	newDoc := func() *document.Document {
		return &document.Document{
			ID:             id.NewDocumentID(),
			ProjectID:      id.NewProjectID(),
			Status:         document.StatusCreated,
			StorageFileRef: "blob-1",
		}
	}

	t.Run("create and find round trip", func(t *testing.T) {
		code := 0
		scheduled := time.Now().Add(5 * time.Minute).Truncate(time.Millisecond)
		doc := newDoc()
		doc.RUC = "20123456789"
		doc.DocumentType = "Invoice"
		doc.DocumentID = "F001-1"
		doc.Retries = 1
		doc.ScheduledDelivery = &scheduled
		doc.Sunat = document.SunatResult{
			Ticket:      "T-001",
			Status:      "ACEPTADO",
			Code:        &code,
			Description: "aceptada",
			Notes:       []string{"nota 1", "nota 2"},
		}
		doc.Status = document.StatusAwaitingTicket
		require.NoError(t, documents.Create(ctx, doc))
		require.EqualValues(t, 1, doc.Version)

		got, err := documents.FindByID(ctx, doc.ID)
		require.NoError(t, err)
		require.Equal(t, doc.ID, got.ID)
		require.Equal(t, doc.ProjectID, got.ProjectID)
		require.Equal(t, "20123456789", got.RUC)
		require.Equal(t, "F001-1", got.DocumentID)
		require.Equal(t, document.StatusAwaitingTicket, got.Status)
		require.Equal(t, 1, got.Retries)
		require.NotNil(t, got.ScheduledDelivery)
		require.WithinDuration(t, scheduled, *got.ScheduledDelivery, time.Millisecond)
		require.Equal(t, doc.Sunat, got.Sunat)
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := documents.FindByID(ctx, id.NewDocumentID())
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("versioned update increments", func(t *testing.T) {
		doc := newDoc()
		require.NoError(t, documents.Create(ctx, doc))

		doc.Status = document.StatusSending
		require.NoError(t, documents.UpdateVersioned(ctx, doc))
		require.EqualValues(t, 2, doc.Version)

		got, err := documents.FindByID(ctx, doc.ID)
		require.NoError(t, err)
		require.Equal(t, document.StatusSending, got.Status)
		require.EqualValues(t, 2, got.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		doc := newDoc()
		require.NoError(t, documents.Create(ctx, doc))

		stale, err := documents.FindByID(ctx, doc.ID)
		require.NoError(t, err)

		doc.Status = document.StatusSending
		require.NoError(t, documents.UpdateVersioned(ctx, doc))

		stale.Status = document.StatusFailed
		require.ErrorIs(t, documents.UpdateVersioned(ctx, stale), sentinel.ErrConflict)

		got, err := documents.FindByID(ctx, doc.ID)
		require.NoError(t, err)
		require.Equal(t, document.StatusSending, got.Status)
	})

	t.Run("updating a missing document", func(t *testing.T) {
		doc := newDoc()
		doc.Version = 1
		require.ErrorIs(t, documents.UpdateVersioned(ctx, doc), sentinel.ErrNotFound)
	})
}
