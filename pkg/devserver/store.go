package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/flowchat/pkg/chat"

	_ "modernc.org/sqlite"
)

var ErrMessageNotFound = errors.New("message not found")

const schema = `
CREATE TABLE IF NOT EXISTS chat_message (
	id               TEXT PRIMARY KEY,
	chatflow_id      TEXT NOT NULL,
	chat_id          TEXT NOT NULL,
	role             TEXT NOT NULL,
	content          TEXT NOT NULL DEFAULT '',
	source_documents TEXT,
	file_uploads     TEXT,
	created_date     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_message_chat ON chat_message(chatflow_id, chat_id, created_date);

CREATE TABLE IF NOT EXISTS chat_message_feedback (
	id           TEXT PRIMARY KEY,
	chatflow_id  TEXT NOT NULL,
	chat_id      TEXT NOT NULL,
	message_id   TEXT NOT NULL UNIQUE,
	rating       TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	created_date TEXT NOT NULL
);
`

// Store persists chat messages and feedback in sqlite
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path. ":memory:" keeps
// everything in memory.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite has a single writer and an in-memory database lives per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddMessage stores a message record, filling in id and date when missing
func (s *Store) AddMessage(ctx context.Context, rec chat.Record) (chat.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedDate.IsZero() {
		rec.CreatedDate = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_message (id, chatflow_id, chat_id, role, content, source_documents, file_uploads, created_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ChatflowID, rec.ChatID, rec.Role, rec.Content,
		nullableJSON(rec.SourceDocuments), nullableJSON(rec.FileUploads),
		rec.CreatedDate.Format(time.RFC3339Nano))
	if err != nil {
		return chat.Record{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return rec, nil
}

// Messages lists the messages of a chat with their feedback. An empty
// chatID lists every chat of the chatflow.
func (s *Store) Messages(ctx context.Context, chatflowID, chatID string, descending bool) ([]chat.Record, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	query := `
		SELECT m.id, m.chatflow_id, m.chat_id, m.role, m.content, m.source_documents, m.file_uploads, m.created_date,
		       f.id, f.rating, f.content
		FROM chat_message m
		LEFT JOIN chat_message_feedback f ON f.message_id = m.id
		WHERE m.chatflow_id = ? AND (? = '' OR m.chat_id = ?)
		ORDER BY m.created_date ` + order + `, m.rowid ` + order

	rows, err := s.db.QueryContext(ctx, query, chatflowID, chatID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	records := make([]chat.Record, 0)
	for rows.Next() {
		var (
			rec                     chat.Record
			sourceDocs, uploads     sql.NullString
			created                 string
			fbID, fbRating, fbNotes sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.ChatflowID, &rec.ChatID, &rec.Role, &rec.Content,
			&sourceDocs, &uploads, &created, &fbID, &fbRating, &fbNotes); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		rec.SessionID = rec.ChatID
		rec.CreatedDate, _ = time.Parse(time.RFC3339Nano, created)
		if sourceDocs.Valid {
			rec.SourceDocuments = json.RawMessage(sourceDocs.String)
		}
		if uploads.Valid {
			rec.FileUploads = json.RawMessage(uploads.String)
		}
		if fbID.Valid {
			rec.Feedback = &chat.Feedback{
				ID:         fbID.String,
				ChatflowID: rec.ChatflowID,
				ChatID:     rec.ChatID,
				MessageID:  rec.ID,
				Rating:     fbRating.String,
				Content:    fbNotes.String,
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteMessages removes a chat and its feedback, returning the number of
// deleted messages
func (s *Store) DeleteMessages(ctx context.Context, chatflowID, chatID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_message_feedback WHERE chatflow_id = ? AND chat_id = ?`, chatflowID, chatID); err != nil {
		return 0, fmt.Errorf("failed to delete feedback: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM chat_message WHERE chatflow_id = ? AND chat_id = ?`, chatflowID, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

// SaveFeedback stores the rating of a message, replacing an earlier one
func (s *Store) SaveFeedback(ctx context.Context, fb chat.Feedback) (chat.Feedback, error) {
	var chatID string
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id FROM chat_message WHERE id = ? AND chatflow_id = ?`, fb.MessageID, fb.ChatflowID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Feedback{}, ErrMessageNotFound
	}
	if err != nil {
		return chat.Feedback{}, fmt.Errorf("failed to look up message: %w", err)
	}
	fb.ChatID = chatID
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO chat_message_feedback (id, chatflow_id, chat_id, message_id, rating, content, created_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET rating = excluded.rating, content = excluded.content
		RETURNING id`,
		fb.ID, fb.ChatflowID, fb.ChatID, fb.MessageID, fb.Rating, fb.Content,
		time.Now().UTC().Format(time.RFC3339Nano)).Scan(&fb.ID)
	if err != nil {
		return chat.Feedback{}, fmt.Errorf("failed to save feedback: %w", err)
	}
	return fb, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
