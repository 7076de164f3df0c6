// Package cache provides the on-device snapshot store for synced entities.
// Each entity type is replaced wholesale by a full sync pass; there is no
// partial-update API because the orchestrator's pull is authoritative.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dojoverse/dojosync/internal/db"
	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/models"
)

// Store persists CachedEntity collections keyed by entity type, plus a
// generic settings map. The sync orchestrator is the only writer.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// SaveKatas atomically replaces the kata snapshot.
func (s *Store) SaveKatas(ctx context.Context, katas []*models.CachedKata) error {
	return s.replace(ctx, "cached_katas", len(katas), func(tx *sql.Tx) error {
		for _, k := range katas {
			imageURLs, videoURLs, err := encodeURLs(k.ImageURLs, k.VideoURLs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO cached_katas (id, name, description, style, author_id, author_name,
				image_urls, video_urls, like_count, is_liked, is_favorite,
				created_at, last_synced, needs_sync)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				k.ID, k.Name, k.Description, k.Style, k.AuthorID, k.AuthorName,
				imageURLs, videoURLs, k.LikeCount, k.IsLiked, k.IsFavorite,
				k.CreatedAt, k.LastSynced, k.NeedsSync); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAllKatas returns the full kata snapshot ordered by id.
func (s *Store) GetAllKatas(ctx context.Context) ([]*models.CachedKata, error) {
	return s.queryKatas(ctx, "SELECT * FROM cached_katas ORDER BY id")
}

// GetFavoriteKatas returns katas flagged as favorites.
func (s *Store) GetFavoriteKatas(ctx context.Context) ([]*models.CachedKata, error) {
	return s.queryKatas(ctx, "SELECT * FROM cached_katas WHERE is_favorite = 1 ORDER BY id")
}

// SaveOhyo atomically replaces the ohyo snapshot.
func (s *Store) SaveOhyo(ctx context.Context, records []*models.CachedOhyo) error {
	return s.replace(ctx, "cached_ohyo", len(records), func(tx *sql.Tx) error {
		for _, o := range records {
			imageURLs, videoURLs, err := encodeURLs(o.ImageURLs, o.VideoURLs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO cached_ohyo (id, name, description, style, author_id, author_name,
				image_urls, video_urls, like_count, is_liked, is_favorite,
				created_at, last_synced, needs_sync)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				o.ID, o.Name, o.Description, o.Style, o.AuthorID, o.AuthorName,
				imageURLs, videoURLs, o.LikeCount, o.IsLiked, o.IsFavorite,
				o.CreatedAt, o.LastSynced, o.NeedsSync); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAllOhyo returns the full ohyo snapshot ordered by id.
func (s *Store) GetAllOhyo(ctx context.Context) ([]*models.CachedOhyo, error) {
	return s.queryOhyo(ctx, "SELECT * FROM cached_ohyo ORDER BY id")
}

// GetFavoriteOhyo returns ohyo records flagged as favorites.
func (s *Store) GetFavoriteOhyo(ctx context.Context) ([]*models.CachedOhyo, error) {
	return s.queryOhyo(ctx, "SELECT * FROM cached_ohyo WHERE is_favorite = 1 ORDER BY id")
}

// SaveForumPosts atomically replaces the forum post snapshot.
func (s *Store) SaveForumPosts(ctx context.Context, posts []*models.CachedForumPost) error {
	return s.replace(ctx, "cached_forum_posts", len(posts), func(tx *sql.Tx) error {
		for _, p := range posts {
			imageURLs, fileURLs, err := encodeURLs(p.ImageURLs, p.FileURLs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO cached_forum_posts (id, title, content, category, author_id, author_name,
				image_urls, file_urls, like_count, is_liked, is_favorite,
				created_at, last_synced, needs_sync)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, p.Title, p.Content, p.Category, p.AuthorID, p.AuthorName,
				imageURLs, fileURLs, p.LikeCount, p.IsLiked, p.IsFavorite,
				p.CreatedAt, p.LastSynced, p.NeedsSync); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAllForumPosts returns the full forum post snapshot ordered by id.
func (s *Store) GetAllForumPosts(ctx context.Context) ([]*models.CachedForumPost, error) {
	return s.queryForumPosts(ctx, "SELECT * FROM cached_forum_posts ORDER BY id")
}

// GetFavoriteForumPosts returns forum posts flagged as favorites.
func (s *Store) GetFavoriteForumPosts(ctx context.Context) ([]*models.CachedForumPost, error) {
	return s.queryForumPosts(ctx, "SELECT * FROM cached_forum_posts WHERE is_favorite = 1 ORDER BY id")
}

// Setting returns the value stored under key, or "" when the key is unset.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrDatabase, "failed to read setting", err)
	}
	return value, nil
}

// SetSetting stores a value under key, overwriting any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to write setting", err)
	}
	return nil
}

// replace runs delete-all plus insert-all inside one transaction so readers
// never observe a half-replaced snapshot.
func (s *Store) replace(ctx context.Context, table string, count int, insert func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return errors.Wrap(errors.ErrDatabase, fmt.Sprintf("failed to clear %s", table), err)
	}
	if err := insert(tx); err != nil {
		return errors.Wrap(errors.ErrDatabase, fmt.Sprintf("failed to fill %s", table), err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrDatabase, fmt.Sprintf("failed to commit %s replace", table), err)
	}
	return nil
}

func (s *Store) queryKatas(ctx context.Context, query string) ([]*models.CachedKata, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query katas", err)
	}
	defer rows.Close()

	var katas []*models.CachedKata
	for rows.Next() {
		var (
			k          models.CachedKata
			imageURLs  string
			videoURLs  string
		)
		if err := rows.Scan(&k.ID, &k.Name, &k.Description, &k.Style,
			&k.AuthorID, &k.AuthorName, &imageURLs, &videoURLs,
			&k.LikeCount, &k.IsLiked, &k.IsFavorite,
			&k.CreatedAt, &k.LastSynced, &k.NeedsSync); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan kata", err)
		}
		if err := decodeURLs(imageURLs, videoURLs, &k.ImageURLs, &k.VideoURLs); err != nil {
			return nil, err
		}
		katas = append(katas, &k)
	}
	return katas, rows.Err()
}

func (s *Store) queryOhyo(ctx context.Context, query string) ([]*models.CachedOhyo, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query ohyo", err)
	}
	defer rows.Close()

	var records []*models.CachedOhyo
	for rows.Next() {
		var (
			o          models.CachedOhyo
			imageURLs  string
			videoURLs  string
		)
		if err := rows.Scan(&o.ID, &o.Name, &o.Description, &o.Style,
			&o.AuthorID, &o.AuthorName, &imageURLs, &videoURLs,
			&o.LikeCount, &o.IsLiked, &o.IsFavorite,
			&o.CreatedAt, &o.LastSynced, &o.NeedsSync); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan ohyo", err)
		}
		if err := decodeURLs(imageURLs, videoURLs, &o.ImageURLs, &o.VideoURLs); err != nil {
			return nil, err
		}
		records = append(records, &o)
	}
	return records, rows.Err()
}

func (s *Store) queryForumPosts(ctx context.Context, query string) ([]*models.CachedForumPost, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query forum posts", err)
	}
	defer rows.Close()

	var posts []*models.CachedForumPost
	for rows.Next() {
		var (
			p         models.CachedForumPost
			imageURLs string
			fileURLs  string
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.Category,
			&p.AuthorID, &p.AuthorName, &imageURLs, &fileURLs,
			&p.LikeCount, &p.IsLiked, &p.IsFavorite,
			&p.CreatedAt, &p.LastSynced, &p.NeedsSync); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan forum post", err)
		}
		if err := decodeURLs(imageURLs, fileURLs, &p.ImageURLs, &p.FileURLs); err != nil {
			return nil, err
		}
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

func encodeURLs(a, b []string) (string, string, error) {
	if a == nil {
		a = []string{}
	}
	if b == nil {
		b = []string{}
	}
	aJSON, err := json.Marshal(a)
	if err != nil {
		return "", "", errors.Wrap(errors.ErrInvalid, "failed to encode url list", err)
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return "", "", errors.Wrap(errors.ErrInvalid, "failed to encode url list", err)
	}
	return string(aJSON), string(bJSON), nil
}

func decodeURLs(a, b string, aOut, bOut *[]string) error {
	if err := json.Unmarshal([]byte(a), aOut); err != nil {
		return errors.Wrap(errors.ErrDatabase, "corrupt url list", err)
	}
	if err := json.Unmarshal([]byte(b), bOut); err != nil {
		return errors.Wrap(errors.ErrDatabase, "corrupt url list", err)
	}
	return nil
}
