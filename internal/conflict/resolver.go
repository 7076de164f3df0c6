// Package conflict provides version-conflict detection for comment edits.
// The check is a single-field optimistic-concurrency guard, not a merge
// algorithm: whoever committed a higher version first wins, and the losing
// edit is parked for manual resolution.
package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dojoverse/dojosync/internal/db"
	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/models"
	"github.com/dojoverse/dojosync/internal/uuid"
)

// Detector decides whether a comment-like update is safe to apply, and
// records a Conflict when it is not. Toggle-style mutations never route
// through the detector: boolean flips keyed by user+target are conflict-free
// by construction.
type Detector struct {
	db *db.DB
}

// NewDetector creates a Detector backed by the given database.
func NewDetector(database *db.DB) *Detector {
	return &Detector{db: database}
}

// DetectConflict compares the server's version against the version the
// client last observed. A conflict exists iff the server has advanced past
// the client (server version strictly greater). When a conflict is found it
// is persisted and true is returned; the caller must not proceed with the
// write. Equal or lower server version returns false with no record.
func (d *Detector) DetectConflict(ctx context.Context, commentType, commentID string, localData, serverData map[string]interface{}, userID string) (bool, error) {
	local := &models.Conflict{LocalData: localData, ServerData: serverData}
	localVersion := local.LocalVersion()
	serverVersion := local.ServerVersion()

	if serverVersion <= localVersion {
		return false, nil
	}

	conflict := &models.Conflict{
		ID:          uuid.New(),
		CommentType: commentType,
		CommentID:   commentID,
		LocalData:   localData,
		ServerData:  serverData,
		UserID:      userID,
		DetectedAt:  time.Now().Unix(),
	}

	if err := d.save(ctx, conflict); err != nil {
		return true, err
	}

	logging.Warn("Version conflict detected",
		map[string]interface{}{
			"comment_type":   commentType,
			"comment_id":     commentID,
			"local_version":  localVersion,
			"server_version": serverVersion,
			"user_id":        userID,
		})

	return true, nil
}

// Unresolved returns all conflicts awaiting manual resolution, newest first.
func (d *Detector) Unresolved(ctx context.Context) ([]*models.Conflict, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT id, comment_type, comment_id, local_data, server_data, user_id, detected_at, resolved
	FROM conflicts
	WHERE resolved = 0
	ORDER BY detected_at DESC`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query conflicts", err)
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to iterate conflicts", err)
	}
	return conflicts, nil
}

// MarkResolved closes a conflict after manual resolution.
func (d *Detector) MarkResolved(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE conflicts SET resolved = 1 WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to resolve conflict", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "conflict %s not found", id)
	}

	logging.Info("Conflict resolved", map[string]interface{}{"conflict_id": id})
	return nil
}

func (d *Detector) save(ctx context.Context, c *models.Conflict) error {
	localData, err := json.Marshal(c.LocalData)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "failed to encode local data", err)
	}
	serverData, err := json.Marshal(c.ServerData)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "failed to encode server data", err)
	}

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO conflicts (id, comment_type, comment_id, local_data, server_data, user_id, detected_at, resolved)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		c.ID, c.CommentType, c.CommentID, string(localData), string(serverData),
		c.UserID, c.DetectedAt)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to save conflict", err)
	}
	return nil
}

func scanConflict(rows *sql.Rows) (*models.Conflict, error) {
	var (
		c          models.Conflict
		localData  string
		serverData string
	)

	if err := rows.Scan(&c.ID, &c.CommentType, &c.CommentID, &localData,
		&serverData, &c.UserID, &c.DetectedAt, &c.Resolved); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to scan conflict", err)
	}

	if err := json.Unmarshal([]byte(localData), &c.LocalData); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "corrupt conflict local data", err)
	}
	if err := json.Unmarshal([]byte(serverData), &c.ServerData); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "corrupt conflict server data", err)
	}
	return &c, nil
}
