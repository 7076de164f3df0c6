// Package interaction executes single remote mutations and reads against
// the hosted backend: like/dislike/favorite toggles and comment CRUD. It is
// stateless with respect to the offline queue; the sync orchestrator decides
// when an operation runs, this package decides only how.
package interaction

import (
	"context"
	"strings"
	"time"

	"github.com/dojoverse/dojosync/internal/backend"
	"github.com/dojoverse/dojosync/internal/conflict"
	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/logging"
	"github.com/dojoverse/dojosync/internal/uuid"
)

// Backend tables touched by interactions.
const (
	tableInteractions   = "interactions"
	tableComments       = "comments"
	tableForumComments  = "forum_comments"
	tableForumFavorites = "forum_favorites"
)

// Target types recognized by the like/dislike tables.
const (
	TargetKata      = "kata"
	TargetOhyo      = "ohyo"
	TargetForumPost = "forum_post"
)

// readTimeout bounds interactive read paths so a dead network cannot stall
// rendering.
const readTimeout = 5 * time.Second

// attachmentTTL is the lifetime of signed attachment URLs handed to read
// paths. Long enough to scroll a thread, short enough that a leaked URL
// goes stale the same hour.
const attachmentTTL = time.Hour

// Attachments resolves stored attachment paths to fetchable URLs. The
// storage resolver implements this; read paths treat it as optional.
type Attachments interface {
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Roles answers whether a user holds an elevated role (moderator or admin).
// The check is defense-in-depth only; the backend's access policy remains
// the authority.
type Roles interface {
	HasElevatedRole(ctx context.Context, userID string) (bool, error)
}

// BackendRoles resolves roles from the profiles table.
type BackendRoles struct {
	client backend.Client
}

// NewBackendRoles creates a Roles implementation over the backend.
func NewBackendRoles(client backend.Client) *BackendRoles {
	return &BackendRoles{client: client}
}

// HasElevatedRole reports whether the user's profile carries a moderator or
// admin role.
func (r *BackendRoles) HasElevatedRole(ctx context.Context, userID string) (bool, error) {
	rows, err := r.client.Select(ctx, backend.Query{
		Table:   "profiles",
		Filters: []backend.Filter{backend.Eq("id", userID)},
		Limit:   1,
		Timeout: readTimeout,
	})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	role := rows[0].String("role")
	return role == "moderator" || role == "admin", nil
}

// Client performs remote interactions.
type Client struct {
	backend     backend.Client
	conflicts   *conflict.Detector
	roles       Roles
	attachments Attachments
}

// NewClient creates a Client. detector may be nil when version-checked
// comment edits are not needed (tooling paths).
func NewClient(b backend.Client, detector *conflict.Detector, roles Roles) *Client {
	return &Client{backend: b, conflicts: detector, roles: roles}
}

// WithAttachments installs an attachment resolver so read paths hand out
// signed URLs instead of raw storage paths. Returns the client for chaining.
func (c *Client) WithAttachments(a Attachments) *Client {
	c.attachments = a
	return c
}

// ToggleLike flips the like state for (user, target) and returns the new
// liked state. Inserting a like first removes any standing dislike so the
// two never coexist.
func (c *Client) ToggleLike(ctx context.Context, targetID, targetType, userID string) (bool, error) {
	return c.toggle(ctx, targetID, targetType, userID, false)
}

// ToggleDislike flips the dislike state for (user, target) and returns the
// new disliked state.
func (c *Client) ToggleDislike(ctx context.Context, targetID, targetType, userID string) (bool, error) {
	return c.toggle(ctx, targetID, targetType, userID, true)
}

// ToggleKataLike flips the like state on a kata.
func (c *Client) ToggleKataLike(ctx context.Context, kataID, userID string) (bool, error) {
	return c.ToggleLike(ctx, kataID, TargetKata, userID)
}

// ToggleOhyoLike flips the like state on an ohyo entry.
func (c *Client) ToggleOhyoLike(ctx context.Context, ohyoID, userID string) (bool, error) {
	return c.ToggleLike(ctx, ohyoID, TargetOhyo, userID)
}

// ToggleForumLike flips the like state on a forum post.
func (c *Client) ToggleForumLike(ctx context.Context, postID, userID string) (bool, error) {
	return c.ToggleLike(ctx, postID, TargetForumPost, userID)
}

// ToggleForumFavorite flips the favorite flag on a forum post and returns
// the new favorited state.
func (c *Client) ToggleForumFavorite(ctx context.Context, postID, userID string) (bool, error) {
	filters := []backend.Filter{
		backend.Eq("user_id", userID),
		backend.Eq("post_id", postID),
	}

	existing, err := c.backend.Select(ctx, backend.Query{
		Table:   tableForumFavorites,
		Filters: filters,
		Limit:   1,
	})
	if err != nil {
		return false, err
	}

	if len(existing) > 0 {
		if err := c.backend.Delete(ctx, tableForumFavorites, filters); err != nil {
			return false, err
		}
		return false, nil
	}

	if _, err := c.backend.Insert(ctx, tableForumFavorites, backend.Row{
		"user_id": userID,
		"post_id": postID,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) toggle(ctx context.Context, targetID, targetType, userID string, dislike bool) (bool, error) {
	if targetID == "" || userID == "" {
		return false, errors.New(errors.ErrInvalid, "target and user are required")
	}

	same := []backend.Filter{
		backend.Eq("user_id", userID),
		backend.Eq("target_id", targetID),
		backend.Eq("target_type", targetType),
		backend.Eq("is_dislike", dislike),
	}

	existing, err := c.backend.Select(ctx, backend.Query{
		Table:   tableInteractions,
		Filters: same,
		Limit:   1,
	})
	if err != nil {
		return false, err
	}

	if len(existing) > 0 {
		if err := c.backend.Delete(ctx, tableInteractions, same); err != nil {
			return false, err
		}
		return false, nil
	}

	// Remove the opposite reaction first so like and dislike never coexist
	// for one (user, target). The backend's uniqueness constraint on
	// (user_id, target_id, target_type) is the real guard against races.
	opposite := []backend.Filter{
		backend.Eq("user_id", userID),
		backend.Eq("target_id", targetID),
		backend.Eq("target_type", targetType),
		backend.Eq("is_dislike", !dislike),
	}
	if err := c.backend.Delete(ctx, tableInteractions, opposite); err != nil {
		return false, err
	}

	if _, err := c.backend.Insert(ctx, tableInteractions, backend.Row{
		"user_id":     userID,
		"target_id":   targetID,
		"target_type": targetType,
		"is_dislike":  dislike,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// LikeCount returns the number of likes on a target. Defaults to 0 on any
// failure so list rendering never blocks on the network.
func (c *Client) LikeCount(ctx context.Context, targetID, targetType string) int {
	rows, err := c.backend.Select(ctx, backend.Query{
		Table: tableInteractions,
		Filters: []backend.Filter{
			backend.Eq("target_id", targetID),
			backend.Eq("target_type", targetType),
			backend.Eq("is_dislike", false),
		},
		Timeout: readTimeout,
	})
	if err != nil {
		logging.Debug("Like count read failed", map[string]interface{}{
			"target_id": targetID,
			"error":     err.Error(),
		})
		return 0
	}
	return len(rows)
}

// IsLiked reports whether the user likes a target. Defaults to false on any
// failure.
func (c *Client) IsLiked(ctx context.Context, targetID, targetType, userID string) bool {
	rows, err := c.backend.Select(ctx, backend.Query{
		Table: tableInteractions,
		Filters: []backend.Filter{
			backend.Eq("user_id", userID),
			backend.Eq("target_id", targetID),
			backend.Eq("target_type", targetType),
			backend.Eq("is_dislike", false),
		},
		Limit:   1,
		Timeout: readTimeout,
	})
	if err != nil {
		return false
	}
	return len(rows) > 0
}

// IsForumFavorite reports whether the user favorited a forum post. Defaults
// to false on any failure.
func (c *Client) IsForumFavorite(ctx context.Context, postID, userID string) bool {
	rows, err := c.backend.Select(ctx, backend.Query{
		Table: tableForumFavorites,
		Filters: []backend.Filter{
			backend.Eq("user_id", userID),
			backend.Eq("post_id", postID),
		},
		Limit:   1,
		Timeout: readTimeout,
	})
	if err != nil {
		return false
	}
	return len(rows) > 0
}

// AddComment creates a comment on a kata or ohyo entry at version 1 and
// returns its id.
func (c *Client) AddComment(ctx context.Context, targetID, targetType, userID, content string) (string, error) {
	return c.addComment(ctx, tableComments, backend.Row{
		"id":          uuid.New(),
		"target_id":   targetID,
		"target_type": targetType,
		"user_id":     userID,
		"content":     content,
		"version":     1,
	}, content, userID)
}

// AddForumComment creates a comment on a forum post at version 1 and
// returns its id.
func (c *Client) AddForumComment(ctx context.Context, postID, userID, content string) (string, error) {
	return c.addComment(ctx, tableForumComments, backend.Row{
		"id":      uuid.New(),
		"post_id": postID,
		"user_id": userID,
		"content": content,
		"version": 1,
	}, content, userID)
}

func (c *Client) addComment(ctx context.Context, table string, row backend.Row, content, userID string) (string, error) {
	if content == "" {
		return "", errors.New(errors.ErrInvalid, "comment content is required")
	}
	if userID == "" {
		return "", errors.New(errors.ErrInvalid, "comment author is required")
	}

	created, err := c.backend.Insert(ctx, table, row)
	if err != nil {
		return "", err
	}
	return created.String("id"), nil
}

// UpdateComment replaces a comment's content, guarding with an optimistic
// version check. baseVersion is the version the edit was written against;
// when the server moved past it, the edit is recorded as a conflict and
// rejected with SYNC_CONFLICT rather than overwriting the newer text.
func (c *Client) UpdateComment(ctx context.Context, commentID, userID, content string, baseVersion int64) error {
	return c.updateComment(ctx, tableComments, "kata", commentID, userID, content, baseVersion)
}

// UpdateForumComment is UpdateComment for forum comments.
func (c *Client) UpdateForumComment(ctx context.Context, commentID, userID, content string, baseVersion int64) error {
	return c.updateComment(ctx, tableForumComments, "forum", commentID, userID, content, baseVersion)
}

func (c *Client) updateComment(ctx context.Context, table, commentType, commentID, userID, content string, baseVersion int64) error {
	server, err := c.fetchComment(ctx, table, commentID)
	if err != nil {
		return err
	}

	if err := c.checkPermission(ctx, server, userID); err != nil {
		return err
	}

	serverVersion := int64(server.Int("version"))
	if serverVersion > baseVersion {
		if c.conflicts != nil {
			local := map[string]interface{}{
				"content": content,
				"version": baseVersion,
			}
			if _, err := c.conflicts.DetectConflict(ctx, commentType, commentID,
				local, map[string]interface{}(server), userID); err != nil {
				logging.Error("Failed to record conflict", err,
					map[string]interface{}{"comment_id": commentID})
			}
		}
		return errors.Newf(errors.ErrSyncConflict,
			"comment %s moved to version %d past local %d", commentID, serverVersion, baseVersion)
	}

	_, err = c.backend.Update(ctx, table,
		[]backend.Filter{backend.Eq("id", commentID)},
		backend.Row{
			"content": content,
			"version": baseVersion + 1,
		})
	return err
}

// DeleteComment removes a comment after a permission check.
func (c *Client) DeleteComment(ctx context.Context, commentID, userID string) error {
	return c.deleteComment(ctx, tableComments, commentID, userID)
}

// DeleteForumComment removes a forum comment after a permission check.
func (c *Client) DeleteForumComment(ctx context.Context, commentID, userID string) error {
	return c.deleteComment(ctx, tableForumComments, commentID, userID)
}

func (c *Client) deleteComment(ctx context.Context, table, commentID, userID string) error {
	server, err := c.fetchComment(ctx, table, commentID)
	if err != nil {
		return err
	}
	if err := c.checkPermission(ctx, server, userID); err != nil {
		return err
	}
	return c.backend.Delete(ctx, table, []backend.Filter{backend.Eq("id", commentID)})
}

// Comments lists comments on a target with attachment paths resolved to
// signed URLs. Defaults to empty on any failure.
func (c *Client) Comments(ctx context.Context, targetID, targetType string) []backend.Row {
	rows, err := c.backend.Select(ctx, backend.Query{
		Table: tableComments,
		Filters: []backend.Filter{
			backend.Eq("target_id", targetID),
			backend.Eq("target_type", targetType),
		},
		OrderBy: "id",
		Timeout: readTimeout,
	})
	if err != nil {
		return nil
	}
	return c.resolveAttachments(ctx, rows)
}

// ForumComments lists comments on a forum post with attachment paths
// resolved to signed URLs. Defaults to empty on any failure.
func (c *Client) ForumComments(ctx context.Context, postID string) []backend.Row {
	rows, err := c.backend.Select(ctx, backend.Query{
		Table:   tableForumComments,
		Filters: []backend.Filter{backend.Eq("post_id", postID)},
		OrderBy: "id",
		Timeout: readTimeout,
	})
	if err != nil {
		return nil
	}
	return c.resolveAttachments(ctx, rows)
}

// resolveAttachments rewrites stored attachment paths in image_urls and
// file_urls to signed URLs. Entries that are already absolute URLs pass
// through untouched, as does everything when no resolver is installed.
func (c *Client) resolveAttachments(ctx context.Context, rows []backend.Row) []backend.Row {
	if c.attachments == nil {
		return rows
	}
	for _, row := range rows {
		for _, key := range []string{"image_urls", "file_urls"} {
			paths := row.Strings(key)
			if len(paths) == 0 {
				continue
			}
			resolved := make([]interface{}, len(paths))
			for i, p := range paths {
				resolved[i] = c.resolveURL(ctx, p)
			}
			row[key] = resolved
		}
	}
	return rows
}

// resolveURL signs one stored path. Signing failure keeps the raw path so a
// render never loses the reference entirely.
func (c *Client) resolveURL(ctx context.Context, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	signed, err := c.attachments.SignedURL(ctx, path, attachmentTTL)
	if err != nil || signed == "" {
		logging.Debug("Attachment signing failed, keeping raw path",
			map[string]interface{}{"path": path})
		return path
	}
	return signed
}

func (c *Client) fetchComment(ctx context.Context, table, commentID string) (backend.Row, error) {
	rows, err := c.backend.Select(ctx, backend.Query{
		Table:   table,
		Filters: []backend.Filter{backend.Eq("id", commentID)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Newf(errors.ErrNotFound, "comment %s not found", commentID)
	}
	return rows[0], nil
}

// checkPermission allows the comment author and users with elevated roles.
func (c *Client) checkPermission(ctx context.Context, comment backend.Row, userID string) error {
	if comment.String("user_id") == userID {
		return nil
	}
	if c.roles != nil {
		elevated, err := c.roles.HasElevatedRole(ctx, userID)
		if err != nil {
			return err
		}
		if elevated {
			return nil
		}
	}
	return errors.Newf(errors.ErrPermission,
		"user %s may not modify another user's comment", userID)
}
