package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"inkwell/internal/auth"
	"inkwell/internal/config"
	"inkwell/internal/rbac"
	"inkwell/internal/realtime"
	"inkwell/internal/search"
	"inkwell/internal/store"
	"inkwell/internal/util"
)

const (
	maxCommentLength  = 1000
	notificationLimit = 20
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreatePostInput struct {
	Title          string   `json:"title"`
	Excerpt        string   `json:"excerpt"`
	Content        string   `json:"content"`
	BannerImageURL string   `json:"bannerImageUrl"`
	Tags           []string `json:"tags"`
}

type CreateCommentInput struct {
	Text     string  `json:"text"`
	ParentID *string `json:"parentId"`
}

type UpdateProfileInput struct {
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl"`
	BannerURL   string   `json:"bannerUrl"`
	Bio         string   `json:"bio"`
	Links       []string `json:"links"`
}

type dataStore interface {
	Ping(context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	UpdateUserProfile(context.Context, store.User) error

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error

	InsertPost(context.Context, store.Post) error
	GetPost(context.Context, string) (store.Post, error)
	ListPosts(context.Context, int) ([]store.Post, error)
	UpdatePost(context.Context, store.Post) error
	DeletePost(context.Context, string) error

	ToggleMark(context.Context, store.MarkRef, string) (bool, int, error)
	HasMark(context.Context, store.MarkRef, string) (bool, error)

	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	ListReplyIDs(context.Context, string) ([]string, error)
	DeleteComment(context.Context, string) error

	InsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) error
	MarkAllNotificationsRead(context.Context, string) error
	UnreadNotificationCount(context.Context, string) (int, error)
}

// eventBus announces changed result sets; implemented by realtime.Hub.
type eventBus interface {
	Publish(ctx context.Context, topics ...string)
}

// assetStore is the object-store collaborator for hosted binaries.
type assetStore interface {
	DeleteByURL(ctx context.Context, url string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexPost(post search.PostRecord)
	IndexPosts(posts []search.PostRecord)
	RemovePost(id string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	events eventBus
	assets assetStore
	search searchIndex
}

func New(cfg config.Config, st dataStore) *Service {
	return &Service{cfg: cfg, store: st}
}

// SetEvents wires the change-event bus; wired after construction because the
// hub re-queries snapshots through this service.
func (s *Service) SetEvents(bus eventBus) { s.events = bus }
func (s *Service) SetAssets(a assetStore) { s.assets = a }
func (s *Service) SetSearch(idx searchIndex) { s.search = idx }

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap reconciles the search index with the posts table on startup.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	posts, err := s.store.ListPosts(ctx, 0)
	if err != nil {
		return fmt.Errorf("bootstrap list posts: %w", err)
	}
	records := make([]search.PostRecord, 0, len(posts))
	for _, post := range posts {
		records = append(records, postRecord(post))
	}
	s.search.IndexPosts(records)
	return nil
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: string(rbac.Normalize(user.Role)),
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refreshToken := util.NewID("")
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         string(rbac.Normalize(user.Role)),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates the refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.store.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.store.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// ---- posts ----

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases the title and collapses runs of non-alphanumerics into
// single dashes.
func Slugify(title string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "-")
	return strings.Trim(slug, "-")
}

func (s *Service) CreatePost(ctx context.Context, authorID string, input CreatePostInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	author, err := s.store.GetUserByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("load author: %w", err)
	}

	post := store.Post{
		ID:             util.NewID("post"),
		AuthorID:       author.ID,
		AuthorName:     author.DisplayName,
		Title:          title,
		Slug:           Slugify(title),
		Excerpt:        strings.TrimSpace(input.Excerpt),
		Content:        input.Content,
		BannerImageURL: input.BannerImageURL,
		Tags:           input.Tags,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertPost(ctx, post); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexPost(postRecord(post))
	}
	s.publish(ctx, realtime.TopicPosts)
	return postPayload(post), nil
}

func (s *Service) GetPost(ctx context.Context, postID string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("post not found")
	}
	if err != nil {
		return nil, err
	}
	return postPayload(post), nil
}

func (s *Service) ListPosts(ctx context.Context) ([]map[string]any, error) {
	posts, err := s.store.ListPosts(ctx, 0)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(posts))
	for _, post := range posts {
		items = append(items, postPayload(post))
	}
	return items, nil
}

func (s *Service) UpdatePost(ctx context.Context, postID, requesterID string, input CreatePostInput) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("post not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrModerator(ctx, post.AuthorID, requesterID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	post.Title = title
	post.Slug = Slugify(title)
	post.Excerpt = strings.TrimSpace(input.Excerpt)
	post.Content = input.Content
	post.BannerImageURL = input.BannerImageURL
	post.Tags = input.Tags
	post.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdatePost(ctx, post); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexPost(postRecord(post))
	}
	s.publish(ctx, realtime.TopicPosts, realtime.TopicPost(post.ID))
	return postPayload(post), nil
}

// DeletePost removes the post and, best-effort, its hosted banner and search
// entry. Marks and comments go with the post row; deleting an absent post is
// a no-op.
func (s *Service) DeletePost(ctx context.Context, postID, requesterID string) error {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.requireOwnerOrModerator(ctx, post.AuthorID, requesterID); err != nil {
		return err
	}

	if err := s.store.DeletePost(ctx, postID); err != nil {
		return err
	}

	if s.assets != nil && post.BannerImageURL != "" {
		if err := s.assets.DeleteByURL(ctx, post.BannerImageURL); err != nil {
			log.Printf("delete post %s: banner cleanup: %v", postID, err)
		}
	}
	if s.search != nil {
		s.search.RemovePost(postID)
	}
	s.publish(ctx, realtime.TopicPosts, realtime.TopicPost(postID), realtime.TopicComments(postID))
	return nil
}

func (s *Service) SearchPosts(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ---- engagement ----

func (s *Service) TogglePostLike(ctx context.Context, postID, userID string) (map[string]any, error) {
	liked, count, err := s.toggle(ctx, store.MarkRef{Kind: store.MarkPostLike, PostID: postID}, userID)
	if err != nil {
		return nil, err
	}
	if liked {
		s.fanoutPostLike(ctx, postID, userID)
	}
	s.publish(ctx, realtime.TopicPosts, realtime.TopicPost(postID))
	return map[string]any{"liked": liked, "likesCount": count}, nil
}

func (s *Service) TogglePostSave(ctx context.Context, postID, userID string) (map[string]any, error) {
	saved, count, err := s.toggle(ctx, store.MarkRef{Kind: store.MarkPostSave, PostID: postID}, userID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.TopicPosts, realtime.TopicPost(postID))
	return map[string]any{"saved": saved, "savesCount": count}, nil
}

func (s *Service) ToggleCommentLike(ctx context.Context, commentID, userID string) (map[string]any, error) {
	liked, count, err := s.toggle(ctx, store.MarkRef{Kind: store.MarkCommentLike, CommentID: commentID}, userID)
	if err != nil {
		return nil, err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err == nil {
		if liked {
			s.fanoutCommentLike(ctx, comment, userID)
		}
		s.publish(ctx, realtime.TopicComments(comment.PostID))
	}
	return map[string]any{"liked": liked, "likesCount": count}, nil
}

func (s *Service) toggle(ctx context.Context, ref store.MarkRef, userID string) (bool, int, error) {
	marked, count, err := s.store.ToggleMark(ctx, ref, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, 0, notFound("entity not found")
	}
	if errors.Is(err, store.ErrContention) {
		return false, 0, conflict("too much contention, try again")
	}
	if err != nil {
		return false, 0, err
	}
	return marked, count, nil
}

// PostEngagement reports the caller's current like/save state on a post.
func (s *Service) PostEngagement(ctx context.Context, postID, userID string) (map[string]any, error) {
	liked, err := s.store.HasMark(ctx, store.MarkRef{Kind: store.MarkPostLike, PostID: postID}, userID)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.HasMark(ctx, store.MarkRef{Kind: store.MarkPostSave, PostID: postID}, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hasLiked": liked, "hasSaved": saved}, nil
}

// ---- comments ----

func (s *Service) CreateComment(ctx context.Context, postID, authorID string, input CreateCommentInput) (map[string]any, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, validationError("comment text is required")
	}
	if utf8.RuneCountInString(text) > maxCommentLength {
		return nil, validationError(fmt.Sprintf("comment text exceeds %d characters", maxCommentLength))
	}

	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("post not found")
	}
	if err != nil {
		return nil, err
	}
	author, err := s.store.GetUserByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("load author: %w", err)
	}

	var parent store.Comment
	if input.ParentID != nil {
		parent, err = s.store.GetComment(ctx, *input.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("parent comment not found")
		}
		if err != nil {
			return nil, err
		}
		if parent.PostID != postID {
			return nil, validationError("parent comment belongs to a different post")
		}
		// depth is capped at two: a reply can never parent another reply
		if parent.ParentID != nil {
			return nil, validationError("replies cannot be nested")
		}
	}

	comment := store.Comment{
		ID:              util.NewID("cmt"),
		PostID:          postID,
		AuthorID:        author.ID,
		AuthorName:      author.DisplayName,
		AuthorAvatarURL: author.AvatarURL,
		ParentID:        input.ParentID,
		Body:            text,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	if input.ParentID != nil {
		s.fanout(ctx, store.Notification{
			RecipientID:  parent.AuthorID,
			Type:         store.NotificationCommentReply,
			FromUserID:   author.ID,
			FromUserName: author.DisplayName,
			PostID:       post.ID,
			PostTitle:    post.Title,
			CommentID:    &comment.ID,
		})
	}
	s.publish(ctx, realtime.TopicComments(postID))
	return commentPayload(comment), nil
}

// DeleteComment removes a comment; for a top-level comment every reply is
// deleted first as an independent idempotent operation. A partial failure
// leaves the parent in place so a retry re-runs the cascade.
func (s *Service) DeleteComment(ctx context.Context, commentID, requesterID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		// already gone; deletes are retriable no-ops
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.requireOwnerOrModerator(ctx, comment.AuthorID, requesterID); err != nil {
		return err
	}

	if comment.ParentID == nil {
		replyIDs, err := s.store.ListReplyIDs(ctx, commentID)
		if err != nil {
			return err
		}
		var failed int
		for _, replyID := range replyIDs {
			if err := s.store.DeleteComment(ctx, replyID); err != nil {
				log.Printf("delete comment %s: reply %s: %v", commentID, replyID, err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("delete comment %s: %d replies not deleted", commentID, failed)
		}
	}

	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.publish(ctx, realtime.TopicComments(comment.PostID))
	return nil
}

// PostComments returns the two-level thread: top-level comments ascending by
// creation time, each carrying its replies in the same order.
func (s *Service) PostComments(ctx context.Context, postID string) ([]map[string]any, error) {
	comments, err := s.store.ListComments(ctx, postID)
	if err != nil {
		return nil, err
	}

	threads := make([]map[string]any, 0)
	byID := make(map[string]map[string]any)
	for _, comment := range comments {
		if comment.ParentID == nil {
			payload := commentPayload(comment)
			payload["replies"] = []map[string]any{}
			byID[comment.ID] = payload
			threads = append(threads, payload)
		}
	}
	for _, comment := range comments {
		if comment.ParentID == nil {
			continue
		}
		parent, ok := byID[*comment.ParentID]
		if !ok {
			// orphaned reply mid-cascade; hidden until the retry finishes
			continue
		}
		parent["replies"] = append(parent["replies"].([]map[string]any), commentPayload(comment))
	}
	return threads, nil
}

// ---- notifications ----

// fanout records a derived notification in the recipient's own collection.
// Self-notification is skipped and failures only get logged: fanout never
// fails the triggering operation.
func (s *Service) fanout(ctx context.Context, n store.Notification) {
	if n.RecipientID == "" || n.RecipientID == n.FromUserID {
		return
	}
	n.ID = util.NewID("ntf")
	if err := s.store.InsertNotification(ctx, n); err != nil {
		log.Printf("notify %s (%s): %v", n.RecipientID, n.Type, err)
		return
	}
	s.publish(ctx, realtime.TopicNotifications(n.RecipientID))
}

func (s *Service) fanoutPostLike(ctx context.Context, postID, actorID string) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		log.Printf("notify post like %s: %v", postID, err)
		return
	}
	actor, err := s.store.GetUserByID(ctx, actorID)
	if err != nil {
		log.Printf("notify post like %s: actor: %v", postID, err)
		return
	}
	s.fanout(ctx, store.Notification{
		RecipientID:  post.AuthorID,
		Type:         store.NotificationPostLike,
		FromUserID:   actor.ID,
		FromUserName: actor.DisplayName,
		PostID:       post.ID,
		PostTitle:    post.Title,
	})
}

func (s *Service) fanoutCommentLike(ctx context.Context, comment store.Comment, actorID string) {
	post, err := s.store.GetPost(ctx, comment.PostID)
	if err != nil {
		log.Printf("notify comment like %s: %v", comment.ID, err)
		return
	}
	actor, err := s.store.GetUserByID(ctx, actorID)
	if err != nil {
		log.Printf("notify comment like %s: actor: %v", comment.ID, err)
		return
	}
	s.fanout(ctx, store.Notification{
		RecipientID:  comment.AuthorID,
		Type:         store.NotificationCommentLike,
		FromUserID:   actor.ID,
		FromUserName: actor.DisplayName,
		PostID:       post.ID,
		PostTitle:    post.Title,
		CommentID:    &comment.ID,
	})
}

// OpenNotifications is the notification view: the latest page plus the badge
// computed before opening. Opening marks everything read, best-effort.
func (s *Service) OpenNotifications(ctx context.Context, userID string) (map[string]any, error) {
	payload, err := s.notificationsPayload(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkAllNotificationsRead(ctx, userID); err != nil {
		log.Printf("mark all read %s: %v", userID, err)
	} else {
		s.publish(ctx, realtime.TopicNotifications(userID))
	}
	return payload, nil
}

// NotificationBadge reports the bell state: unread within the latest page
// drives the badge, totalUnread is the true backlog across all history.
func (s *Service) NotificationBadge(ctx context.Context, userID string) (map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, userID, notificationLimit)
	if err != nil {
		return nil, err
	}
	total, err := s.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	unread := countUnread(items)
	return map[string]any{"unread": unread, "totalUnread": total, "badge": badgeLabel(unread)}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	if err := s.store.MarkNotificationRead(ctx, userID, notificationID); err != nil {
		return err
	}
	s.publish(ctx, realtime.TopicNotifications(userID))
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	if err := s.store.MarkAllNotificationsRead(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, realtime.TopicNotifications(userID))
	return nil
}

func (s *Service) notificationsPayload(ctx context.Context, userID string) (map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, userID, notificationLimit)
	if err != nil {
		return nil, err
	}
	total, err := s.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, n := range items {
		payloads = append(payloads, notificationPayload(n))
	}
	unread := countUnread(items)
	return map[string]any{
		"notifications": payloads,
		"unread":        unread,
		"totalUnread":   total,
		"badge":         badgeLabel(unread),
	}, nil
}

func countUnread(items []store.Notification) int {
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	return unread
}

// badgeLabel renders the bell badge: nothing at zero, the numeral through 9,
// "9+" above that.
func badgeLabel(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > 9:
		return "9+"
	default:
		return strconv.Itoa(unread)
	}
}

// ---- profiles ----

func (s *Service) Profile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user not found")
	}
	if err != nil {
		return nil, err
	}
	return profilePayload(user), nil
}

// UpdateProfile edits the live profile document. Historical comments keep the
// author snapshot taken when they were written; there is no fanout to them.
func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		return nil, validationError("display name is required")
	}
	previousAvatar := user.AvatarURL
	previousBanner := user.BannerURL

	user.DisplayName = displayName
	user.AvatarURL = input.AvatarURL
	user.BannerURL = input.BannerURL
	user.Bio = input.Bio
	user.Links = input.Links
	if err := s.store.UpdateUserProfile(ctx, user); err != nil {
		return nil, err
	}

	if s.assets != nil {
		if previousAvatar != "" && previousAvatar != user.AvatarURL {
			if err := s.assets.DeleteByURL(ctx, previousAvatar); err != nil {
				log.Printf("profile %s: avatar cleanup: %v", userID, err)
			}
		}
		if previousBanner != "" && previousBanner != user.BannerURL {
			if err := s.assets.DeleteByURL(ctx, previousBanner); err != nil {
				log.Printf("profile %s: banner cleanup: %v", userID, err)
			}
		}
	}
	s.publish(ctx, realtime.TopicProfile(userID))
	return profilePayload(user), nil
}

// ---- realtime source ----

// Snapshot re-runs a subscription query and returns the complete current
// result set. The hub calls this on every matching change event.
func (s *Service) Snapshot(ctx context.Context, q realtime.Query) (any, error) {
	switch q.Kind {
	case realtime.QueryPosts:
		return s.ListPosts(ctx)
	case realtime.QueryPost:
		return s.GetPost(ctx, q.PostID)
	case realtime.QueryPostComments:
		return s.PostComments(ctx, q.PostID)
	case realtime.QueryNotifications:
		return s.notificationsPayload(ctx, q.UserID)
	case realtime.QueryProfile:
		return s.Profile(ctx, q.UserID)
	default:
		return nil, fmt.Errorf("unknown query kind %q", q.Kind)
	}
}

// ---- helpers ----

// requireOwnerOrModerator enforces the delete/edit rule before any write is
// attempted: the owner always may, everyone else needs the moderate action.
func (s *Service) requireOwnerOrModerator(ctx context.Context, ownerID, requesterID string) error {
	if requesterID == ownerID {
		return nil
	}
	requester, err := s.store.GetUserByID(ctx, requesterID)
	if err != nil {
		return forbidden("requester unknown")
	}
	if !rbac.Can(rbac.Normalize(requester.Role), rbac.ActionModerate) {
		return forbidden("only the owner or an admin may do this")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, topics ...string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, topics...)
}

func postRecord(post store.Post) search.PostRecord {
	return search.PostRecord{
		ID:         post.ID,
		Title:      post.Title,
		Excerpt:    post.Excerpt,
		Content:    post.Content,
		Tags:       post.Tags,
		AuthorName: post.AuthorName,
	}
}

func postPayload(post store.Post) map[string]any {
	tags := post.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"id":             post.ID,
		"authorId":       post.AuthorID,
		"authorName":     post.AuthorName,
		"title":          post.Title,
		"slug":           post.Slug,
		"excerpt":        post.Excerpt,
		"content":        post.Content,
		"bannerImageUrl": post.BannerImageURL,
		"tags":           tags,
		"likesCount":     post.LikesCount,
		"savesCount":     post.SavesCount,
		"createdAt":      post.CreatedAt,
		"updatedAt":      post.UpdatedAt,
	}
}

func commentPayload(comment store.Comment) map[string]any {
	payload := map[string]any{
		"id":              comment.ID,
		"postId":          comment.PostID,
		"authorId":        comment.AuthorID,
		"authorName":      comment.AuthorName,
		"authorAvatarUrl": comment.AuthorAvatarURL,
		"text":            comment.Body,
		"likesCount":      comment.LikesCount,
		"createdAt":       comment.CreatedAt,
	}
	if comment.ParentID != nil {
		payload["parentId"] = *comment.ParentID
	}
	return payload
}

func notificationPayload(n store.Notification) map[string]any {
	payload := map[string]any{
		"id":           n.ID,
		"type":         string(n.Type),
		"fromUserId":   n.FromUserID,
		"fromUserName": n.FromUserName,
		"postId":       n.PostID,
		"postTitle":    n.PostTitle,
		"read":         n.Read,
		"createdAt":    n.CreatedAt,
	}
	if n.CommentID != nil {
		payload["commentId"] = *n.CommentID
	}
	return payload
}

func profilePayload(user store.User) map[string]any {
	links := user.Links
	if links == nil {
		links = []string{}
	}
	return map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"avatarUrl":   user.AvatarURL,
		"bannerUrl":   user.BannerURL,
		"bio":         user.Bio,
		"links":       links,
		"role":        string(rbac.Normalize(user.Role)),
		"createdAt":   user.CreatedAt,
	}
}
