package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"comm_core/internal/domain"
)

// ChatRepository is the persistence gateway for conversations and messages.
// It carries no delivery policy; the coordinator decides what to broadcast.
type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// FindOrCreateIndividual returns the individual conversation between the two
// users, creating it if missing. Uniqueness per unordered pair is enforced
// by the lookup running before the create.
func (r *ChatRepository) FindOrCreateIndividual(ctx context.Context, user1ID, user2ID int64) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants cp1 ON c.id = cp1.conversation_id
		JOIN conversation_participants cp2 ON c.id = cp2.conversation_id
		WHERE c.type = 'individual'
		  AND cp1.user_id = $1
		  AND cp2.user_id = $2
	`, user1ID, user2ID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up conversation: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO conversations (type) VALUES ('individual') RETURNING id
	`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)
	`, id, user1ID, user2ID); err != nil {
		return 0, fmt.Errorf("failed to add participants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit conversation: %w", err)
	}
	return id, nil
}

// ListForUser returns the user's conversation list: latest message, the
// other participant and the unread count, newest activity first.
func (r *ChatRepository) ListForUser(ctx context.Context, userID int64) ([]domain.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.type, c.created_at,
		       m.content, m.created_at, m.type,
		       u.id, COALESCE(u.username, ''), u.phone_number, COALESCE(u.profile_picture, ''),
		       (SELECT COUNT(*) FROM messages msg
		        WHERE msg.conversation_id = c.id AND msg.is_read = FALSE AND msg.sender_id != $1)
		FROM conversations c
		JOIN conversation_participants cp ON c.id = cp.conversation_id
		JOIN conversation_participants cp2 ON c.id = cp2.conversation_id AND cp2.user_id != $1
		JOIN users u ON cp2.user_id = u.id
		LEFT JOIN messages m ON c.id = m.conversation_id AND m.id = (
			SELECT MAX(id) FROM messages WHERE conversation_id = c.id
		)
		WHERE cp.user_id = $1
		ORDER BY m.created_at DESC NULLS LAST
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationSummary
	for rows.Next() {
		var s domain.ConversationSummary
		var lastContent sql.NullString
		var lastTime sql.NullTime
		var lastType sql.NullString
		if err := rows.Scan(&s.ID, &s.Type, &s.CreatedAt,
			&lastContent, &lastTime, &lastType,
			&s.OtherUserID, &s.OtherUsername, &s.OtherPhone, &s.OtherAvatar,
			&s.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if lastContent.Valid {
			s.LastMessage = &lastContent.String
		}
		if lastTime.Valid {
			s.LastMessageTime = &lastTime.Time
		}
		if lastType.Valid {
			mt := domain.MessageType(lastType.String)
			s.LastMessageType = &mt
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ChatRepository) Participants(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch participants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateMessage inserts the message with status 'sent' and reads it back
// joined with the sender's name and avatar, filling msg in place.
func (r *ChatRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, type, file_url, status)
		VALUES ($1, $2, $3, $4, $5, 'sent')
		RETURNING id
	`, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.FileURL).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	persisted, err := r.MessageByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read back message %d: %w", id, err)
	}
	*msg = *persisted
	return nil
}

func (r *ChatRepository) MessageByID(ctx context.Context, id int64) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.type, m.file_url,
		       m.status, m.is_read, m.created_at, m.delivered_at, m.read_at,
		       COALESCE(u.username, ''), COALESCE(u.profile_picture, '')
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.id = $1
	`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// PageByConversation fetches up to limit messages older than cursor (0 means
// newest), returned in chronological order after reversal.
func (r *ChatRepository) PageByConversation(ctx context.Context, conversationID int64, limit int, cursor int64) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 30
	}
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.type, m.file_url,
		       m.status, m.is_read, m.created_at, m.delivered_at, m.read_at,
		       COALESCE(u.username, ''), COALESCE(u.profile_picture, '')
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = $1`
	args := []any{conversationID}
	if cursor > 0 {
		query += ` AND m.id < $2 ORDER BY m.id DESC LIMIT $3`
		args = append(args, cursor, limit)
	} else {
		query += ` ORDER BY m.id DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Fetched newest-first; reverse to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpdateMessageStatus advances a message's status. The WHERE clauses keep
// the transition monotonic: delivered only applies to 'sent' rows, read
// never regresses.
func (r *ChatRepository) UpdateMessageStatus(ctx context.Context, id int64, status domain.MessageStatus) error {
	var err error
	switch status {
	case domain.StatusDelivered:
		_, err = r.db.ExecContext(ctx, `
			UPDATE messages SET status = 'delivered', delivered_at = NOW()
			WHERE id = $1 AND status = 'sent'
		`, id)
	case domain.StatusRead:
		_, err = r.db.ExecContext(ctx, `
			UPDATE messages SET status = 'read', is_read = TRUE, read_at = NOW()
			WHERE id = $1 AND status != 'read'
		`, id)
	default:
		return fmt.Errorf("invalid status transition target %q", status)
	}
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// MarkConversationRead bulk-marks every unread message in the conversation
// authored by someone other than the reader.
func (r *ChatRepository) MarkConversationRead(ctx context.Context, conversationID, readerID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = TRUE, status = 'read', read_at = NOW()
		WHERE conversation_id = $1 AND sender_id != $2 AND status != 'read'
	`, conversationID, readerID)
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

func (r *ChatRepository) DeleteMessage(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (r *ChatRepository) DeleteConversation(ctx context.Context, conversationID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (r *ChatRepository) ClearConversation(ctx context.Context, conversationID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var content, fileURL sql.NullString
	var deliveredAt, readAt sql.NullTime
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &content, &msg.Type, &fileURL,
		&msg.Status, &msg.IsRead, &msg.CreatedAt, &deliveredAt, &readAt,
		&msg.SenderName, &msg.SenderAvatar)
	if err != nil {
		return nil, err
	}
	if content.Valid {
		msg.Content = &content.String
	}
	if fileURL.Valid {
		msg.FileURL = &fileURL.String
	}
	if deliveredAt.Valid {
		msg.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}
	return &msg, nil
}
