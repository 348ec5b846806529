package database

import (
	"context"
	"path/filepath"
	"testing"

	"onionchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "abcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrstuvwx"
	bob   = "bbcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrstuvwx"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "onionchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_InvalidPath(t *testing.T) {
	for _, path := range []string{"", "../../etc/onionchat.db", "bad\x00path"} {
		_, err := New(path)
		assert.Error(t, err, path)
	}
}

func TestFailedSend_SaveGetDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	send := &models.FailedSend{
		LocalRef:  "ref-1",
		ContactID: alice,
		Kind:      models.SendKindText,
		Text:      "hello",
		Error:     "daemon rejected",
		Timestamp: 1700000000,
	}
	require.NoError(t, db.SaveFailedSend(ctx, send))

	got, err := db.GetFailedSend(ctx, "ref-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, alice, got.ContactID)
	assert.Equal(t, models.SendKindText, got.Kind)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "daemon rejected", got.Error)
	assert.Equal(t, int64(1700000000), got.Timestamp)
	assert.Equal(t, 1, got.Attempts)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, db.DeleteFailedSend(ctx, "ref-1"))
	got, err = db.GetFailedSend(ctx, "ref-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, db.DeleteFailedSend(ctx, "missing"))
}

func TestFailedSend_UpsertKeepsPayload(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	send := &models.FailedSend{LocalRef: "ref-1", ContactID: alice, Kind: models.SendKindText, Text: "hello", Error: "first", Timestamp: 10, BaselineID: 41}
	require.NoError(t, db.SaveFailedSend(ctx, send))

	send.Error = "second"
	send.Attempts = 2
	require.NoError(t, db.SaveFailedSend(ctx, send))

	got, err := db.GetFailedSend(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Error)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, int64(41), got.BaselineID)
}

func TestFailedSend_RequiresLocalRef(t *testing.T) {
	db := setupTestDB(t)
	assert.Error(t, db.SaveFailedSend(context.Background(), &models.FailedSend{ContactID: alice}))
	assert.Error(t, db.SaveFailedSend(context.Background(), nil))
}

func TestListFailedSends_ByContactInOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveFailedSend(ctx, &models.FailedSend{LocalRef: "b", ContactID: alice, Kind: models.SendKindText, Text: "second", Timestamp: 20}))
	require.NoError(t, db.SaveFailedSend(ctx, &models.FailedSend{LocalRef: "a", ContactID: alice, Kind: models.SendKindAttachment, AttachmentPath: "/tmp/cat.png", Timestamp: 10}))
	require.NoError(t, db.SaveFailedSend(ctx, &models.FailedSend{LocalRef: "c", ContactID: bob, Kind: models.SendKindText, Text: "other", Timestamp: 5}))

	sends, err := db.ListFailedSends(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sends, 2)
	assert.Equal(t, "a", sends[0].LocalRef)
	assert.Equal(t, "/tmp/cat.png", sends[0].AttachmentPath)
	assert.Equal(t, "b", sends[1].LocalRef)

	sends, err = db.ListFailedSends(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, sends)
}

func TestReadMarker_NeverMovesBackwards(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id, err := db.GetReadMarker(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	require.NoError(t, db.SaveReadMarker(ctx, alice, 10))
	require.NoError(t, db.SaveReadMarker(ctx, alice, 7))

	id, err = db.GetReadMarker(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)

	require.NoError(t, db.SaveReadMarker(ctx, alice, 12))
	id, err = db.GetReadMarker(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
}

func TestCleanupOldRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveFailedSend(ctx, &models.FailedSend{LocalRef: "old", ContactID: alice, Kind: models.SendKindText, Text: "x", Timestamp: 1}))
	require.NoError(t, db.SaveFailedSend(ctx, &models.FailedSend{LocalRef: "new", ContactID: alice, Kind: models.SendKindText, Text: "y", Timestamp: 2}))
	require.NoError(t, db.SaveReadMarker(ctx, alice, 3))
	require.NoError(t, db.SaveReadMarker(ctx, bob, 4))

	_, err := db.db.Exec(`UPDATE failed_sends SET updated_at = datetime('now', '-40 days') WHERE local_ref = 'old'`)
	require.NoError(t, err)
	_, err = db.db.Exec(`UPDATE read_markers SET updated_at = datetime('now', '-40 days') WHERE contact_key = ?`, db.encryptor.LookupKey(bob))
	require.NoError(t, err)

	removed, err := db.CleanupOldRecords(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err := db.GetFailedSend(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = db.GetFailedSend(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, got)

	id, err := db.GetReadMarker(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	_, err = db.CleanupOldRecords(ctx, 0)
	assert.Error(t, err)
}

func TestEncryptedColumns(t *testing.T) {
	t.Setenv("ONIONCHAT_ENABLE_ENCRYPTION", "true")
	t.Setenv("ONIONCHAT_ENCRYPTION_SECRET", "this-is-a-very-long-test-secret-key-for-encryption")

	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveFailedSend(ctx, &models.FailedSend{LocalRef: "ref", ContactID: alice, Kind: models.SendKindText, Text: "secret text", Timestamp: 1}))

	var rawContact, rawText, rawKey string
	require.NoError(t, db.db.QueryRow(`SELECT contact_id, text, contact_key FROM failed_sends WHERE local_ref = 'ref'`).Scan(&rawContact, &rawText, &rawKey))
	assert.NotEqual(t, alice, rawContact)
	assert.NotEqual(t, "secret text", rawText)
	assert.NotEqual(t, alice, rawKey)

	sends, err := db.ListFailedSends(ctx, alice)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, "secret text", sends[0].Text)
	assert.Equal(t, alice, sends[0].ContactID)
}

func TestHealthCheck(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
}
