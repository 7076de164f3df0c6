package models

// Conflict records a detected divergence between a queued local mutation and
// the server state for the same entity. Conflicts are parked for manual
// resolution; the triggering operation is marked failed with a non-retryable
// error and is never replayed automatically.
type Conflict struct {
	ID          string                 `db:"id" json:"id"`
	CommentType string                 `db:"comment_type" json:"comment_type"`
	CommentID   string                 `db:"comment_id" json:"comment_id"`
	LocalData   map[string]interface{} `db:"local_data" json:"local_data"`
	ServerData  map[string]interface{} `db:"server_data" json:"server_data"`
	UserID      string                 `db:"user_id" json:"user_id"`
	DetectedAt  int64                  `db:"detected_at" json:"detected_at"`
	Resolved    bool                   `db:"resolved" json:"resolved"`
}

// TableName returns the table name for Conflict.
func (Conflict) TableName() string {
	return "conflicts"
}

// LocalVersion returns the version the client believed was current, or 0 if
// the payload carries none.
func (c *Conflict) LocalVersion() int64 {
	return versionOf(c.LocalData)
}

// ServerVersion returns the version currently on the server, or 0.
func (c *Conflict) ServerVersion() int64 {
	return versionOf(c.ServerData)
}

func versionOf(data map[string]interface{}) int64 {
	switch v := data["version"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		// JSON round-trips integers as float64.
		return int64(v)
	}
	return 0
}
