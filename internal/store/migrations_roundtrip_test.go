package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, ctx, cancel := testDatabase(t)
	defer cancel()

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}

	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestToggleMarkPostgres(t *testing.T) {
	db, ctx, cancel := testDatabase(t)
	defer cancel()

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewPostgresStore(db)
	author := User{ID: "usr_author", DisplayName: "Author", Email: "author@example.com"}
	reader := User{ID: "usr_reader", DisplayName: "Reader", Email: "reader@example.com"}
	if err := st.CreateUser(ctx, author); err != nil {
		t.Fatalf("create author: %v", err)
	}
	if err := st.CreateUser(ctx, reader); err != nil {
		t.Fatalf("create reader: %v", err)
	}
	post := Post{ID: "post_1", AuthorID: author.ID, Title: "Hello", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := st.InsertPost(ctx, post); err != nil {
		t.Fatalf("insert post: %v", err)
	}

	ref := MarkRef{Kind: MarkPostLike, PostID: post.ID}

	liked, count, err := st.ToggleMark(ctx, ref, reader.ID)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !liked || count != 1 {
		t.Fatalf("expected liked=true count=1, got %v %d", liked, count)
	}

	has, err := st.HasMark(ctx, ref, reader.ID)
	if err != nil || !has {
		t.Fatalf("expected mark present, got %v %v", has, err)
	}

	liked, count, err = st.ToggleMark(ctx, ref, reader.ID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if liked || count != 0 {
		t.Fatalf("expected liked=false count=0, got %v %d", liked, count)
	}

	stored, err := st.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if stored.LikesCount != 0 {
		t.Fatalf("counter drifted from marks: %d", stored.LikesCount)
	}

	if _, _, err := st.ToggleMark(ctx, MarkRef{Kind: MarkPostLike, PostID: "post_missing"}, reader.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing post, got %v", err)
	}
}

func TestDeletePostCascadesPostgres(t *testing.T) {
	db, ctx, cancel := testDatabase(t)
	defer cancel()

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewPostgresStore(db)
	author := User{ID: "usr_author", DisplayName: "Author", Email: "author@example.com"}
	reader := User{ID: "usr_reader", DisplayName: "Reader", Email: "reader@example.com"}
	for _, user := range []User{author, reader} {
		if err := st.CreateUser(ctx, user); err != nil {
			t.Fatalf("create user %s: %v", user.ID, err)
		}
	}
	post := Post{ID: "post_1", AuthorID: author.ID, Title: "Hello", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := st.InsertPost(ctx, post); err != nil {
		t.Fatalf("insert post: %v", err)
	}

	comment := Comment{ID: "cmt_1", PostID: post.ID, AuthorID: reader.ID, Body: "hi", CreatedAt: time.Now()}
	if err := st.InsertComment(ctx, comment); err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	if _, _, err := st.ToggleMark(ctx, MarkRef{Kind: MarkPostLike, PostID: post.ID}, reader.ID); err != nil {
		t.Fatalf("like post: %v", err)
	}
	if _, _, err := st.ToggleMark(ctx, MarkRef{Kind: MarkPostSave, PostID: post.ID}, reader.ID); err != nil {
		t.Fatalf("save post: %v", err)
	}
	if _, _, err := st.ToggleMark(ctx, MarkRef{Kind: MarkCommentLike, CommentID: comment.ID}, author.ID); err != nil {
		t.Fatalf("like comment: %v", err)
	}

	if err := st.DeletePost(ctx, post.ID); err != nil {
		t.Fatalf("delete post: %v", err)
	}

	for _, table := range []string{"posts", "post_marks", "comments", "comment_marks"} {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s: expected 0 rows after post delete, got %d", table, count)
		}
	}

	// deleting again is a no-op
	if err := st.DeletePost(ctx, post.ID); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}

	posts, err := st.ListPosts(ctx, 0)
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected empty post list, got %d", len(posts))
	}
}

func testDatabase(t *testing.T) (*sql.DB, context.Context, context.CancelFunc) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("INKWELL_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("INKWELL_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db, ctx, cancel
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		downs = append(downs, migration{version: match[1], path: filepath.Join(migrationsDir, entry.Name())})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}
	return nil
}
