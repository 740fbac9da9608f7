package cache

import (
	"encoding/json"
	"time"

	"github.com/glintapp/glint/internal/store"
)

// UpsertConversation persists one conversation and its messages. Optimistic
// messages still carrying a temporary id are skipped; they either confirm
// (and come back under their server id) or are not worth surviving a restart.
func (db *DB) UpsertConversation(c store.Conversation) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	_, err = tx.Exec(`
		INSERT INTO conversations (id, participants, unread_count, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participants = excluded.participants,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		c.ID, string(participants), c.UnreadCount, c.LastMessageAt.UnixMilli(), now)
	if err != nil {
		return err
	}

	for _, m := range c.Messages {
		if m.Pending() {
			continue
		}
		var mediaKind, mediaURL, markerKind, markerCallType string
		if m.Media != nil {
			mediaKind = string(m.Media.Kind)
			mediaURL = m.Media.URL
		}
		if m.CallMarker != nil {
			markerKind = string(m.CallMarker.Kind)
			markerCallType = m.CallMarker.CallType
		}
		_, err = tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender, body, media_kind, media_url, marker_kind, marker_call_type, seen, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				body = excluded.body,
				seen = excluded.seen`,
			c.ID, m.ID, m.Sender, m.Text, mediaKind, mediaURL, markerKind, markerCallType, m.Seen, m.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadConversations returns all cached conversations with their messages in
// chronological order, most recently active conversation first.
func (db *DB) LoadConversations() ([]store.Conversation, error) {
	rows, err := db.Query(`
		SELECT id, participants, unread_count, last_message_at
		FROM conversations
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []store.Conversation
	for rows.Next() {
		var c store.Conversation
		var participants string
		var lastMessageAt int64
		if err := rows.Scan(&c.ID, &participants, &c.UnreadCount, &lastMessageAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
			return nil, err
		}
		c.LastMessageAt = time.UnixMilli(lastMessageAt)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		msgs, err := db.listMessages(convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].Messages = msgs
	}
	return convs, nil
}

func (db *DB) listMessages(conversationID string) ([]store.Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, sender, body, media_kind, media_url, marker_kind, marker_call_type, seen, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var mediaKind, mediaURL, markerKind, markerCallType string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &mediaKind, &mediaURL, &markerKind, &markerCallType, &m.Seen, &createdAt); err != nil {
			return nil, err
		}
		m.ConversationID = conversationID
		m.CreatedAt = time.UnixMilli(createdAt)
		if mediaKind != "" {
			m.Media = &store.Media{Kind: store.MediaKind(mediaKind), URL: mediaURL}
		}
		if markerKind != "" {
			m.CallMarker = &store.CallMarker{Kind: store.MarkerKind(markerKind), CallType: markerCallType}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
