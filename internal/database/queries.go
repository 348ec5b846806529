package database

// Outbox queries
const (
	UpsertFailedSendQuery = `
		INSERT INTO failed_sends (
			local_ref, contact_key, contact_id, kind, text,
			attachment_path, error, timestamp, attempts, baseline_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_ref) DO UPDATE SET
			error = excluded.error,
			attempts = excluded.attempts,
			updated_at = CURRENT_TIMESTAMP
	`

	SelectFailedSendQuery = `
		SELECT local_ref, contact_id, kind, text, attachment_path,
			   error, timestamp, attempts, baseline_id, created_at, updated_at
		FROM failed_sends
		WHERE local_ref = ?
	`

	SelectFailedSendsByContactQuery = `
		SELECT local_ref, contact_id, kind, text, attachment_path,
			   error, timestamp, attempts, baseline_id, created_at, updated_at
		FROM failed_sends
		WHERE contact_key = ?
		ORDER BY timestamp ASC, created_at ASC
	`

	DeleteFailedSendQuery = `DELETE FROM failed_sends WHERE local_ref = ?`

	DeleteOldFailedSendsQuery = `
		DELETE FROM failed_sends
		WHERE updated_at < datetime('now', '-' || ? || ' days')
	`
)

// Read marker queries
const (
	UpsertReadMarkerQuery = `
		INSERT INTO read_markers (contact_key, contact_id, last_seen_id)
		VALUES (?, ?, ?)
		ON CONFLICT(contact_key) DO UPDATE SET
			last_seen_id = MAX(read_markers.last_seen_id, excluded.last_seen_id),
			updated_at = CURRENT_TIMESTAMP
	`

	SelectReadMarkerQuery = `SELECT last_seen_id FROM read_markers WHERE contact_key = ?`

	DeleteOldReadMarkersQuery = `
		DELETE FROM read_markers
		WHERE updated_at < datetime('now', '-' || ? || ' days')
	`
)
