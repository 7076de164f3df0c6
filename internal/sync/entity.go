package sync

import (
	"context"
	"time"

	"github.com/dojoverse/dojosync/internal/backend"
	"github.com/dojoverse/dojosync/internal/interaction"
	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/models"
)

// syncKatas pulls the complete kata table ordered by id, enriches each
// record with social counters, and replaces the local snapshot in one
// write. Full-replace, not a diff: the whole table moves every pass.
func (o *Orchestrator) syncKatas(ctx context.Context) models.SyncResult {
	rows, err := o.backend.Select(ctx, backend.Query{Table: "katas", OrderBy: "id"})
	if err != nil {
		return failedResult(models.SyncOpKatas, err)
	}

	// Favorites are a local-only flag; carry them across the replace.
	favorites := make(map[string]bool)
	if existing, err := o.store.GetAllKatas(ctx); err == nil {
		for _, k := range existing {
			if k.IsFavorite {
				favorites[k.ID] = true
			}
		}
	}

	userID := o.currentUser()
	now := time.Now().Unix()
	katas := make([]*models.CachedKata, 0, len(rows))
	for i, row := range rows {
		id := row.String("id")
		katas = append(katas, &models.CachedKata{
			ID:          id,
			Name:        row.String("name"),
			Description: row.String("description"),
			Style:       row.String("style"),
			AuthorID:    row.String("author_id"),
			AuthorName:  row.String("author_name"),
			ImageURLs:   row.Strings("image_urls"),
			VideoURLs:   row.Strings("video_urls"),
			LikeCount:   o.interactions.LikeCount(ctx, id, interaction.TargetKata),
			IsLiked:     o.interactions.IsLiked(ctx, id, interaction.TargetKata, userID),
			IsFavorite:  favorites[id],
			CreatedAt:   int64(row.Int("created_at")),
			LastSynced:  now,
		})
		o.reportProgress(models.SyncOpKatas, i+1, len(rows))
	}

	if err := o.store.SaveKatas(ctx, katas); err != nil {
		return failedResult(models.SyncOpKatas, err)
	}

	return models.SyncResult{
		Operation:      models.SyncOpKatas,
		Success:        true,
		ItemsProcessed: len(katas),
		Timestamp:      time.Now(),
	}
}

// syncOhyo is syncKatas for ohyo entries.
func (o *Orchestrator) syncOhyo(ctx context.Context) models.SyncResult {
	rows, err := o.backend.Select(ctx, backend.Query{Table: "ohyo", OrderBy: "id"})
	if err != nil {
		return failedResult(models.SyncOpOhyo, err)
	}

	favorites := make(map[string]bool)
	if existing, err := o.store.GetAllOhyo(ctx); err == nil {
		for _, r := range existing {
			if r.IsFavorite {
				favorites[r.ID] = true
			}
		}
	}

	userID := o.currentUser()
	now := time.Now().Unix()
	records := make([]*models.CachedOhyo, 0, len(rows))
	for i, row := range rows {
		id := row.String("id")
		records = append(records, &models.CachedOhyo{
			ID:          id,
			Name:        row.String("name"),
			Description: row.String("description"),
			Style:       row.String("style"),
			AuthorID:    row.String("author_id"),
			AuthorName:  row.String("author_name"),
			ImageURLs:   row.Strings("image_urls"),
			VideoURLs:   row.Strings("video_urls"),
			LikeCount:   o.interactions.LikeCount(ctx, id, interaction.TargetOhyo),
			IsLiked:     o.interactions.IsLiked(ctx, id, interaction.TargetOhyo, userID),
			IsFavorite:  favorites[id],
			CreatedAt:   int64(row.Int("created_at")),
			LastSynced:  now,
		})
		o.reportProgress(models.SyncOpOhyo, i+1, len(rows))
	}

	if err := o.store.SaveOhyo(ctx, records); err != nil {
		return failedResult(models.SyncOpOhyo, err)
	}

	return models.SyncResult{
		Operation:      models.SyncOpOhyo,
		Success:        true,
		ItemsProcessed: len(records),
		Timestamp:      time.Now(),
	}
}

// syncForumPosts pulls the forum post list. Favorites live on the backend
// for forum posts, so the flag is read per post instead of carried over.
func (o *Orchestrator) syncForumPosts(ctx context.Context) models.SyncResult {
	rows, err := o.backend.Select(ctx, backend.Query{Table: "forum_posts", OrderBy: "id"})
	if err != nil {
		return failedResult(models.SyncOpForumPosts, err)
	}

	userID := o.currentUser()
	now := time.Now().Unix()
	posts := make([]*models.CachedForumPost, 0, len(rows))
	for i, row := range rows {
		id := row.String("id")
		posts = append(posts, &models.CachedForumPost{
			ID:         id,
			Title:      row.String("title"),
			Content:    row.String("content"),
			Category:   row.String("category"),
			AuthorID:   row.String("author_id"),
			AuthorName: row.String("author_name"),
			ImageURLs:  row.Strings("image_urls"),
			FileURLs:   row.Strings("file_urls"),
			LikeCount:  o.interactions.LikeCount(ctx, id, interaction.TargetForumPost),
			IsLiked:    o.interactions.IsLiked(ctx, id, interaction.TargetForumPost, userID),
			IsFavorite: o.interactions.IsForumFavorite(ctx, id, userID),
			CreatedAt:  int64(row.Int("created_at")),
			LastSynced: now,
		})
		o.reportProgress(models.SyncOpForumPosts, i+1, len(rows))
	}

	if err := o.store.SaveForumPosts(ctx, posts); err != nil {
		return failedResult(models.SyncOpForumPosts, err)
	}

	return models.SyncResult{
		Operation:      models.SyncOpForumPosts,
		Success:        true,
		ItemsProcessed: len(posts),
		Timestamp:      time.Now(),
	}
}

// cacheAllMedia downloads every media URL referenced by the cached
// snapshots. Returns the number of failed downloads; failures are logged
// and do not abort the pass.
func (o *Orchestrator) cacheAllMedia(ctx context.Context) int {
	if o.media == nil {
		return 0
	}

	var urls []string
	if katas, err := o.store.GetAllKatas(ctx); err == nil {
		for _, k := range katas {
			urls = append(urls, k.ImageURLs...)
			urls = append(urls, k.VideoURLs...)
		}
	}
	if records, err := o.store.GetAllOhyo(ctx); err == nil {
		for _, r := range records {
			urls = append(urls, r.ImageURLs...)
			urls = append(urls, r.VideoURLs...)
		}
	}
	if posts, err := o.store.GetAllForumPosts(ctx); err == nil {
		for _, p := range posts {
			urls = append(urls, p.ImageURLs...)
			urls = append(urls, p.FileURLs...)
		}
	}

	failed := 0
	for _, url := range urls {
		if _, err := o.media.CacheURL(ctx, url, false); err != nil {
			failed++
			logging.Warn("Media caching failed",
				map[string]interface{}{"url": url, "error": err.Error()})
		}
	}
	return failed
}

// cacheForumDetails re-fetches each cached forum post individually so the
// full content and category are available for offline reading. Returns the
// number of posts whose detail fetch failed.
func (o *Orchestrator) cacheForumDetails(ctx context.Context) int {
	posts, err := o.store.GetAllForumPosts(ctx)
	if err != nil || len(posts) == 0 {
		return 0
	}

	failed := 0
	updated := make([]*models.CachedForumPost, 0, len(posts))
	for _, post := range posts {
		rows, err := o.backend.Select(ctx, backend.Query{
			Table:   "forum_posts",
			Filters: []backend.Filter{backend.Eq("id", post.ID)},
			Limit:   1,
		})
		if err != nil || len(rows) == 0 {
			failed++
			updated = append(updated, post)
			continue
		}
		post.Content = rows[0].String("content")
		post.Category = rows[0].String("category")
		updated = append(updated, post)
	}

	if err := o.store.SaveForumPosts(ctx, updated); err != nil {
		logging.Error("Failed to persist forum post details", err, nil)
		return len(posts)
	}
	return failed
}
