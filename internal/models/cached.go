package models

// CachedKata is the local snapshot of a kata record pulled from the backend.
// Snapshots are replaced wholesale on each full sync pass; NeedsSync marks
// records mutated locally before the next pull reconciles them.
type CachedKata struct {
	ID          string   `db:"id" json:"id"`
	Name        string   `db:"name" json:"name"`
	Description string   `db:"description" json:"description"`
	Style       string   `db:"style" json:"style"`
	AuthorID    string   `db:"author_id" json:"author_id"`
	AuthorName  string   `db:"author_name" json:"author_name"`
	ImageURLs   []string `db:"image_urls" json:"image_urls"`
	VideoURLs   []string `db:"video_urls" json:"video_urls"`
	LikeCount   int      `db:"like_count" json:"like_count"`
	IsLiked     bool     `db:"is_liked" json:"is_liked"`
	IsFavorite  bool     `db:"is_favorite" json:"is_favorite"`
	CreatedAt   int64    `db:"created_at" json:"created_at"`
	LastSynced  int64    `db:"last_synced" json:"last_synced"`
	NeedsSync   bool     `db:"needs_sync" json:"needs_sync"`
}

// TableName returns the table name for CachedKata.
func (CachedKata) TableName() string {
	return "cached_katas"
}

// CachedOhyo is the local snapshot of an ohyo (application drill) record.
type CachedOhyo struct {
	ID          string   `db:"id" json:"id"`
	Name        string   `db:"name" json:"name"`
	Description string   `db:"description" json:"description"`
	Style       string   `db:"style" json:"style"`
	AuthorID    string   `db:"author_id" json:"author_id"`
	AuthorName  string   `db:"author_name" json:"author_name"`
	ImageURLs   []string `db:"image_urls" json:"image_urls"`
	VideoURLs   []string `db:"video_urls" json:"video_urls"`
	LikeCount   int      `db:"like_count" json:"like_count"`
	IsLiked     bool     `db:"is_liked" json:"is_liked"`
	IsFavorite  bool     `db:"is_favorite" json:"is_favorite"`
	CreatedAt   int64    `db:"created_at" json:"created_at"`
	LastSynced  int64    `db:"last_synced" json:"last_synced"`
	NeedsSync   bool     `db:"needs_sync" json:"needs_sync"`
}

// TableName returns the table name for CachedOhyo.
func (CachedOhyo) TableName() string {
	return "cached_ohyo"
}

// CachedForumPost is the local snapshot of a forum post, including the full
// content and category needed for offline article-style reading.
type CachedForumPost struct {
	ID         string   `db:"id" json:"id"`
	Title      string   `db:"title" json:"title"`
	Content    string   `db:"content" json:"content"`
	Category   string   `db:"category" json:"category"`
	AuthorID   string   `db:"author_id" json:"author_id"`
	AuthorName string   `db:"author_name" json:"author_name"`
	ImageURLs  []string `db:"image_urls" json:"image_urls"`
	FileURLs   []string `db:"file_urls" json:"file_urls"`
	LikeCount  int      `db:"like_count" json:"like_count"`
	IsLiked    bool     `db:"is_liked" json:"is_liked"`
	IsFavorite bool     `db:"is_favorite" json:"is_favorite"`
	CreatedAt  int64    `db:"created_at" json:"created_at"`
	LastSynced int64    `db:"last_synced" json:"last_synced"`
	NeedsSync  bool     `db:"needs_sync" json:"needs_sync"`
}

// TableName returns the table name for CachedForumPost.
func (CachedForumPost) TableName() string {
	return "cached_forum_posts"
}
