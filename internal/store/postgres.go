package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	links, err := json.Marshal(user.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, avatar_url, banner_url, bio, links, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.AvatarURL, user.BannerURL, user.Bio, links, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, display_name, email, password_hash, avatar_url, banner_url, bio, links, role, created_at, updated_at`

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, user User) error {
	links, err := json.Marshal(user.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE users
		SET display_name=$2, avatar_url=$3, banner_url=$4, bio=$5, links=$6, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.DisplayName, user.AvatarURL, user.BannerURL, user.Bio, links)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	var links []byte
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.AvatarURL, &user.BannerURL, &user.Bio, &links, &user.Role,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &user.Links); err != nil {
			return User{}, fmt.Errorf("unmarshal links: %w", err)
		}
	}
	return user, nil
}

// ---- refresh sessions ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixedUserColumns("u")+`
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func prefixedUserColumns(alias string) string {
	return alias + ".id, " + alias + ".display_name, " + alias + ".email, " + alias + ".password_hash, " +
		alias + ".avatar_url, " + alias + ".banner_url, " + alias + ".bio, " + alias + ".links, " +
		alias + ".role, " + alias + ".created_at, " + alias + ".updated_at"
}

// ---- posts ----

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) error {
	tags, err := json.Marshal(post.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, author_name, title, slug, excerpt, content, banner_image_url, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, post.ID, post.AuthorID, post.AuthorName, post.Title, post.Slug, post.Excerpt, post.Content, post.BannerImageURL, tags)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

const postColumns = `id, author_id, author_name, title, slug, excerpt, content, banner_image_url, tags, likes_count, saves_count, created_at, updated_at`

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, postID)
	return scanPost(row)
}

// ListPosts returns posts newest first. A limit <= 0 means no limit: the
// realtime posts snapshot and the search bootstrap need the full set.
func (s *PostgresStore) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		post, err := scanPostRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, post Post) error {
	tags, err := json.Marshal(post.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE posts
		SET title=$2, slug=$3, excerpt=$4, content=$5, banner_image_url=$6, tags=$7, updated_at=NOW()
		WHERE id=$1
	`, post.ID, post.Title, post.Slug, post.Excerpt, post.Content, post.BannerImageURL, tags)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return nil
}

// DeletePost removes the post row; marks, comments, and comment marks go with
// it via ON DELETE CASCADE. Deleting an absent id is a no-op.
func (s *PostgresStore) DeletePost(ctx context.Context, postID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

func scanPost(row *sql.Row) (Post, error) {
	var post Post
	var tags []byte
	err := row.Scan(&post.ID, &post.AuthorID, &post.AuthorName, &post.Title, &post.Slug,
		&post.Excerpt, &post.Content, &post.BannerImageURL, &tags,
		&post.LikesCount, &post.SavesCount, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return Post{}, err
	}
	return decodePostTags(post, tags)
}

func scanPostRows(rows *sql.Rows) (Post, error) {
	var post Post
	var tags []byte
	err := rows.Scan(&post.ID, &post.AuthorID, &post.AuthorName, &post.Title, &post.Slug,
		&post.Excerpt, &post.Content, &post.BannerImageURL, &tags,
		&post.LikesCount, &post.SavesCount, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return Post{}, err
	}
	return decodePostTags(post, tags)
}

func decodePostTags(post Post, tags []byte) (Post, error) {
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &post.Tags); err != nil {
			return Post{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return post, nil
}

// ---- comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, post_id, author_id, author_name, author_avatar_url, parent_id, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, comment.ID, comment.PostID, comment.AuthorID, comment.AuthorName, comment.AuthorAvatarURL, comment.ParentID, comment.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

const commentColumns = `id, post_id, author_id, author_name, author_avatar_url, parent_id, body, likes_count, created_at`

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	var parentID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID).Scan(
		&comment.ID, &comment.PostID, &comment.AuthorID, &comment.AuthorName, &comment.AuthorAvatarURL,
		&parentID, &comment.Body, &comment.LikesCount, &comment.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	if parentID.Valid {
		comment.ParentID = &parentID.String
	}
	return comment, nil
}

// ListComments returns every comment on a post, top-level and replies alike,
// ascending by creation time.
func (s *PostgresStore) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE post_id=$1
		ORDER BY created_at ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var comment Comment
		var parentID sql.NullString
		if err := rows.Scan(&comment.ID, &comment.PostID, &comment.AuthorID, &comment.AuthorName,
			&comment.AuthorAvatarURL, &parentID, &comment.Body, &comment.LikesCount, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if parentID.Valid {
			comment.ParentID = &parentID.String
		}
		items = append(items, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListReplyIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM comments WHERE parent_id=$1 ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list reply ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reply id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reply ids: %w", err)
	}
	return ids, nil
}

// DeleteComment removes one comment row. It is idempotent: deleting an id
// that is already gone is a no-op, which keeps cascade deletes retriable.
func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// ---- notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, type, from_user_id, from_user_name, post_id, post_title, comment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.RecipientID, n.Type, n.FromUserID, n.FromUserName, n.PostID, n.PostTitle, n.CommentID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, type, from_user_id, from_user_name, post_id, post_title, comment_id, read, created_at
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		var commentID sql.NullString
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.FromUserID, &n.FromUserName,
			&n.PostID, &n.PostTitle, &commentID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if commentID.Valid {
			n.CommentID = &commentID.String
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationRead flips read to true. The transition is one-way and
// idempotent; marking an already-read or absent notification is a no-op.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, recipientID, notificationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE id=$1 AND recipient_id=$2
	`, notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE recipient_id=$1 AND read=FALSE
	`, recipientID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND read=FALSE
	`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}
