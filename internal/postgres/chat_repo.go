package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// querier — общее у *pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS room_messages (
	room_id     TEXT        NOT NULL,
	id          TEXT        NOT NULL,
	sender_id   TEXT        NOT NULL,
	sender_name TEXT        NOT NULL DEFAULT '',
	content     TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room_id, id)
);
CREATE INDEX IF NOT EXISTS room_messages_room_created_idx
	ON room_messages (room_id, created_at DESC, id DESC);
`

const insertMessageSQL = `
	INSERT INTO room_messages (room_id, id, sender_id, sender_name, content, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (room_id, id) DO NOTHING
`

// История в порядке (created_at,id) DESC, курсор — последняя выданная строка.
const historySQL = `
	SELECT id, sender_id, sender_name, content, created_at
	FROM room_messages
	WHERE room_id = $1
	  AND (
	    $2::timestamptz IS NULL
	    OR created_at < $2
	    OR (created_at = $2 AND id < $3)
	  )
	ORDER BY created_at DESC, id DESC
	LIMIT $4
`

// ChatRepository — архив чата, реализует service.Archive.
type ChatRepository struct {
	db querier
}

func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *ChatRepository) Save(ctx context.Context, roomID string, m domain.Message) error {
	_, err := r.db.Exec(ctx, insertMessageSQL, roomID, m.ID, m.SenderID, m.SenderName, m.Content, m.Timestamp)
	if err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return nil
}

// History возвращает страницу истории комнаты и курсор следующей страницы
// (пустой, если страница неполная).
func (r *ChatRepository) History(ctx context.Context, roomID, after string, limit int) ([]domain.Message, string, error) {
	limit = clampLimit(limit)
	cur, err := DecodeCursor(after)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}

	var createdAt, id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.db.Query(ctx, historySQL, roomID, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Content, &m.Timestamp); err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	return out, nextCursor(out, limit), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return min(limit, MaxHistoryLimit)
}

func nextCursor(page []domain.Message, limit int) string {
	if len(page) < limit || len(page) == 0 {
		return ""
	}
	last := page[len(page)-1]
	c, err := EncodeCursor(Cursor{CreatedAt: last.Timestamp, ID: last.ID})
	if err != nil {
		return ""
	}
	return c
}
