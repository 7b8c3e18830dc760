package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound means the toggled entity vanished before commit.
	ErrNotFound = errors.New("entity not found")
	// ErrContention is returned after the bounded retry budget is exhausted.
	ErrContention = errors.New("transaction contention")
)

const toggleMaxAttempts = 5

// markTarget maps a MarkRef onto the tables and counter column it touches.
type markTarget struct {
	entityID   string
	lockSQL    string
	existsSQL  string
	insertSQL  string
	deleteSQL  string
	counterSQL string
}

func (ref MarkRef) target() (markTarget, error) {
	switch ref.Kind {
	case MarkPostLike:
		return markTarget{
			entityID:   ref.PostID,
			lockSQL:    `SELECT likes_count FROM posts WHERE id=$1 FOR UPDATE`,
			existsSQL:  `SELECT EXISTS(SELECT 1 FROM post_marks WHERE post_id=$1 AND user_id=$2 AND kind='like')`,
			insertSQL:  `INSERT INTO post_marks (post_id, user_id, kind) VALUES ($1, $2, 'like')`,
			deleteSQL:  `DELETE FROM post_marks WHERE post_id=$1 AND user_id=$2 AND kind='like'`,
			counterSQL: `UPDATE posts SET likes_count=$2 WHERE id=$1`,
		}, nil
	case MarkPostSave:
		return markTarget{
			entityID:   ref.PostID,
			lockSQL:    `SELECT saves_count FROM posts WHERE id=$1 FOR UPDATE`,
			existsSQL:  `SELECT EXISTS(SELECT 1 FROM post_marks WHERE post_id=$1 AND user_id=$2 AND kind='save')`,
			insertSQL:  `INSERT INTO post_marks (post_id, user_id, kind) VALUES ($1, $2, 'save')`,
			deleteSQL:  `DELETE FROM post_marks WHERE post_id=$1 AND user_id=$2 AND kind='save'`,
			counterSQL: `UPDATE posts SET saves_count=$2 WHERE id=$1`,
		}, nil
	case MarkCommentLike:
		return markTarget{
			entityID:   ref.CommentID,
			lockSQL:    `SELECT likes_count FROM comments WHERE id=$1 FOR UPDATE`,
			existsSQL:  `SELECT EXISTS(SELECT 1 FROM comment_marks WHERE comment_id=$1 AND user_id=$2)`,
			insertSQL:  `INSERT INTO comment_marks (comment_id, user_id) VALUES ($1, $2)`,
			deleteSQL:  `DELETE FROM comment_marks WHERE comment_id=$1 AND user_id=$2`,
			counterSQL: `UPDATE comments SET likes_count=$2 WHERE id=$1`,
		}, nil
	default:
		return markTarget{}, fmt.Errorf("unknown mark kind %q", ref.Kind)
	}
}

// ToggleMark flips the (entity, user) mark inside one transaction and keeps
// the denormalized counter equal to the number of mark rows. Returns the
// post-toggle state and counter. Serialization failures are retried up to
// toggleMaxAttempts before surfacing ErrContention. No other code path may
// write these counters.
func (s *PostgresStore) ToggleMark(ctx context.Context, ref MarkRef, userID string) (bool, int, error) {
	target, err := ref.target()
	if err != nil {
		return false, 0, err
	}

	var lastErr error
	for attempt := 0; attempt < toggleMaxAttempts; attempt++ {
		marked, count, err := s.toggleMarkOnce(ctx, target, userID)
		if err == nil {
			return marked, count, nil
		}
		if !retryableTxError(err) {
			return false, 0, err
		}
		lastErr = err
	}
	return false, 0, fmt.Errorf("%w: %v", ErrContention, lastErr)
}

func (s *PostgresStore) toggleMarkOnce(ctx context.Context, target markTarget, userID string) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, 0, fmt.Errorf("begin toggle tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, target.lockSQL, target.entityID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, ErrNotFound
	}
	if err != nil {
		return false, 0, fmt.Errorf("lock entity: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, target.existsSQL, target.entityID, userID).Scan(&exists); err != nil {
		return false, 0, fmt.Errorf("check mark: %w", err)
	}

	var marked bool
	var next int
	if exists {
		if _, err := tx.ExecContext(ctx, target.deleteSQL, target.entityID, userID); err != nil {
			return false, 0, fmt.Errorf("delete mark: %w", err)
		}
		next = current - 1
		if next < 0 {
			next = 0
		}
	} else {
		if _, err := tx.ExecContext(ctx, target.insertSQL, target.entityID, userID); err != nil {
			return false, 0, fmt.Errorf("insert mark: %w", err)
		}
		next = current + 1
		marked = true
	}

	if _, err := tx.ExecContext(ctx, target.counterSQL, target.entityID, next); err != nil {
		return false, 0, fmt.Errorf("update counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit toggle: %w", err)
	}
	return marked, next, nil
}

// HasMark reports whether the (entity, user) mark currently exists.
func (s *PostgresStore) HasMark(ctx context.Context, ref MarkRef, userID string) (bool, error) {
	target, err := ref.target()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, target.existsSQL, target.entityID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check mark: %w", err)
	}
	return exists, nil
}

// retryableTxError matches Postgres serialization failures and deadlocks,
// the two cases where rerunning the toggle transaction can succeed.
func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
