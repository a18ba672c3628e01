package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// Tx is the set of hierarchy operations available inside a transaction.
// Cascading deletes are driven by the caller through these primitives.
type Tx interface {
	ListPostsByChannel(context.Context, string) ([]Post, error)
	ListMediaByPost(context.Context, string) ([]Media, error)
	DeleteMediaByPost(context.Context, string) (int64, error)
	DeleteCommentsByPost(context.Context, string) (int64, error)
	DeletePost(context.Context, string) error
	DeleteEventsByChannel(context.Context, string) (int64, error)
	DeleteChannel(context.Context, string) error
	RecordOrphan(context.Context, BlobOrphan) error
}

type queryer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  queryer
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn against a transaction-bound copy of the store. The
// transaction commits only if fn returns nil.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	bound := &PostgresStore{db: s.db, q: tx}
	if err := fn(bound); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireAffected(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Channels

const channelColumns = `id, name, description, client_id, behaviorist_id, created_at, updated_at`

func scanChannel(row interface{ Scan(...any) error }) (Channel, error) {
	var item Channel
	var description sql.NullString
	var updatedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.Name, &description, &item.ClientID, &item.BehavioristID, &item.CreatedAt, &updatedAt); err != nil {
		return Channel{}, err
	}
	item.Description = stringPtr(description)
	item.UpdatedAt = timePtr(updatedAt)
	return item, nil
}

func (s *PostgresStore) InsertChannel(ctx context.Context, item Channel) (Channel, error) {
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO channels (id, name, description, client_id, behaviorist_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+channelColumns,
		item.ID, item.Name, item.Description, item.ClientID, item.BehavioristID)
	created, err := scanChannel(row)
	if err != nil {
		return Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id=$1`, channelID)
	item, err := scanChannel(row)
	if err != nil {
		return Channel{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) ListChannelsForPrincipal(ctx context.Context, principal string) ([]Channel, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+channelColumns+`
		FROM channels
		WHERE behaviorist_id=$1 OR client_id=$1
		ORDER BY seq ASC
	`, principal)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]Channel, 0)
	for rows.Next() {
		item, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateChannel(ctx context.Context, item Channel) (Channel, error) {
	row := s.q.QueryRowContext(ctx, `
		UPDATE channels SET name=$2, description=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+channelColumns,
		item.ID, item.Name, item.Description)
	updated, err := scanChannel(row)
	if err != nil {
		return Channel{}, fmt.Errorf("update channel: %w", notFound(err))
	}
	return updated, nil
}

func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM channels WHERE id=$1`, channelID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return requireAffected(result, "delete channel")
}

// Posts

const postColumns = `id, channel_id, title, content, author_id, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var item Post
	var updatedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.ChannelID, &item.Title, &item.Content, &item.AuthorID, &item.CreatedAt, &updatedAt); err != nil {
		return Post{}, err
	}
	item.UpdatedAt = timePtr(updatedAt)
	return item, nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, item Post) (Post, error) {
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO posts (id, channel_id, title, content, author_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+postColumns,
		item.ID, item.ChannelID, item.Title, item.Content, item.AuthorID)
	created, err := scanPost(row)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, postID)
	item, err := scanPost(row)
	if err != nil {
		return Post{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) ListPostsByChannel(ctx context.Context, channelID string) ([]Post, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+postColumns+` FROM posts WHERE channel_id=$1 ORDER BY seq ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		item, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, item Post) (Post, error) {
	row := s.q.QueryRowContext(ctx, `
		UPDATE posts SET title=$2, content=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+postColumns,
		item.ID, item.Title, item.Content)
	updated, err := scanPost(row)
	if err != nil {
		return Post{}, fmt.Errorf("update post: %w", notFound(err))
	}
	return updated, nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, postID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return requireAffected(result, "delete post")
}

// Comments

const commentColumns = `id, post_id, content, author_id, created_at`

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) (Comment, error) {
	var created Comment
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO comments (id, post_id, content, author_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+commentColumns,
		item.ID, item.PostID, item.Content, item.AuthorID,
	).Scan(&created.ID, &created.PostID, &created.Content, &created.AuthorID, &created.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var item Comment
	err := s.q.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, commentID).
		Scan(&item.ID, &item.PostID, &item.Content, &item.AuthorID, &item.CreatedAt)
	if err != nil {
		return Comment{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) ListCommentsByPost(ctx context.Context, postID string) ([]Comment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE post_id=$1 ORDER BY seq ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.PostID, &item.Content, &item.AuthorID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return requireAffected(result, "delete comment")
}

func (s *PostgresStore) DeleteCommentsByPost(ctx context.Context, postID string) (int64, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM comments WHERE post_id=$1`, postID)
	if err != nil {
		return 0, fmt.Errorf("delete comments: %w", err)
	}
	return result.RowsAffected()
}

// Media

const mediaColumns = `id, post_id, file_path, content_type, size_bytes, created_by, created_at`

func scanMedia(row interface{ Scan(...any) error }) (Media, error) {
	var item Media
	var postID sql.NullString
	if err := row.Scan(&item.ID, &postID, &item.FilePath, &item.ContentType, &item.SizeBytes, &item.CreatedBy, &item.CreatedAt); err != nil {
		return Media{}, err
	}
	item.PostID = stringPtr(postID)
	return item, nil
}

func (s *PostgresStore) InsertMedia(ctx context.Context, item Media) (Media, error) {
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO media (id, post_id, file_path, content_type, size_bytes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+mediaColumns,
		item.ID, item.PostID, item.FilePath, item.ContentType, item.SizeBytes, item.CreatedBy)
	created, err := scanMedia(row)
	if err != nil {
		return Media{}, fmt.Errorf("insert media: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetMedia(ctx context.Context, mediaID string) (Media, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id=$1`, mediaID)
	item, err := scanMedia(row)
	if err != nil {
		return Media{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) ListMediaByPost(ctx context.Context, postID string) ([]Media, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE post_id=$1 ORDER BY seq ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	items := make([]Media, 0)
	for rows.Next() {
		item, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteMedia(ctx context.Context, mediaID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM media WHERE id=$1`, mediaID)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return requireAffected(result, "delete media")
}

func (s *PostgresStore) DeleteMediaByPost(ctx context.Context, postID string) (int64, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM media WHERE post_id=$1`, postID)
	if err != nil {
		return 0, fmt.Errorf("delete media by post: %w", err)
	}
	return result.RowsAffected()
}

// Events

const eventColumns = `id, channel_id, title, description, location, start_time, end_time, created_by, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var item Event
	var description, location sql.NullString
	var updatedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.ChannelID, &item.Title, &description, &location, &item.StartTime, &item.EndTime, &item.CreatedBy, &item.CreatedAt, &updatedAt); err != nil {
		return Event{}, err
	}
	item.Description = stringPtr(description)
	item.Location = stringPtr(location)
	item.UpdatedAt = timePtr(updatedAt)
	return item, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, item Event) (Event, error) {
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO events (id, channel_id, title, description, location, start_time, end_time, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+eventColumns,
		item.ID, item.ChannelID, item.Title, item.Description, item.Location, item.StartTime, item.EndTime, item.CreatedBy)
	created, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (Event, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, eventID)
	item, err := scanEvent(row)
	if err != nil {
		return Event{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) ListEventsByChannel(ctx context.Context, channelID string) ([]Event, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE channel_id=$1 ORDER BY seq ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]Event, 0)
	for rows.Next() {
		item, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, item Event) (Event, error) {
	row := s.q.QueryRowContext(ctx, `
		UPDATE events
		SET title=$2, description=$3, location=$4, start_time=$5, end_time=$6, updated_at=NOW()
		WHERE id=$1
		RETURNING `+eventColumns,
		item.ID, item.Title, item.Description, item.Location, item.StartTime, item.EndTime)
	updated, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("update event: %w", notFound(err))
	}
	return updated, nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, eventID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM events WHERE id=$1`, eventID)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return requireAffected(result, "delete event")
}

func (s *PostgresStore) DeleteEventsByChannel(ctx context.Context, channelID string) (int64, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM events WHERE channel_id=$1`, channelID)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return result.RowsAffected()
}

// Orphaned blobs

func (s *PostgresStore) RecordOrphan(ctx context.Context, item BlobOrphan) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO blob_orphans (file_path, reason)
		VALUES ($1, $2)
		ON CONFLICT (file_path) DO NOTHING
	`, item.FilePath, item.Reason)
	if err != nil {
		return fmt.Errorf("record orphan: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOrphans(ctx context.Context, limit int) ([]BlobOrphan, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT o.file_path, o.reason, o.attempts, COALESCE(o.last_error, ''), o.created_at,
			EXISTS (SELECT 1 FROM media m WHERE m.file_path = o.file_path)
		FROM blob_orphans o
		ORDER BY o.attempts ASC, o.created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	items := make([]BlobOrphan, 0)
	for rows.Next() {
		var item BlobOrphan
		if err := rows.Scan(&item.FilePath, &item.Reason, &item.Attempts, &item.LastError, &item.CreatedAt, &item.Referenced); err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphans: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkOrphanAttempt(ctx context.Context, filePath, lastError string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE blob_orphans SET attempts = attempts + 1, last_error=$2 WHERE file_path=$1
	`, filePath, lastError)
	if err != nil {
		return fmt.Errorf("mark orphan attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearOrphan(ctx context.Context, filePath string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM blob_orphans WHERE file_path=$1`, filePath); err != nil {
		return fmt.Errorf("clear orphan: %w", err)
	}
	return nil
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}
