package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	AvatarURL    string
	BannerURL    string
	Bio          string
	Links        []string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Post struct {
	ID             string
	AuthorID       string
	AuthorName     string
	Title          string
	Slug           string
	Excerpt        string
	Content        string
	BannerImageURL string
	Tags           []string
	LikesCount     int
	SavesCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Comment carries a denormalized author snapshot (name, avatar) captured at
// write time. Profile edits do not rewrite historical comments.
type Comment struct {
	ID              string
	PostID          string
	AuthorID        string
	AuthorName      string
	AuthorAvatarURL string
	ParentID        *string
	Body            string
	LikesCount      int
	CreatedAt       time.Time
}

type NotificationType string

const (
	NotificationCommentReply NotificationType = "comment-reply"
	NotificationPostLike     NotificationType = "post-like"
	NotificationCommentLike  NotificationType = "comment-like"
)

type Notification struct {
	ID           string
	RecipientID  string
	Type         NotificationType
	FromUserID   string
	FromUserName string
	PostID       string
	PostTitle    string
	CommentID    *string
	Read         bool
	CreatedAt    time.Time
}

// MarkKind selects which engagement counter a toggle operates on. The three
// kinds share one contract: presence of the mark row means "user has
// liked/saved the entity" and the counter always equals the row count.
type MarkKind string

const (
	MarkPostLike    MarkKind = "post-like"
	MarkPostSave    MarkKind = "post-save"
	MarkCommentLike MarkKind = "comment-like"
)

// MarkRef addresses the entity a mark belongs to. CommentID is only set for
// MarkCommentLike.
type MarkRef struct {
	Kind      MarkKind
	PostID    string
	CommentID string
}
