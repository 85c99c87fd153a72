package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmoroz/marketchat/internal/model"
)

// ThreadSnapshot is the last known view of one conversation.
type ThreadSnapshot struct {
	Detail   model.ChatDetail
	Messages []model.Message
	SavedAt  int64
}

// SaveThread stores the thread detail plus latest message page for a
// chat, replacing any previous snapshot.
func (db *DB) SaveThread(chatID int64, detail *model.ChatDetail, msgs []model.Message) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}
	msgsJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO thread_snapshots (chat_id, detail, messages, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			detail = excluded.detail,
			messages = excluded.messages,
			saved_at = excluded.saved_at`,
		chatID, string(detailJSON), string(msgsJSON), time.Now().UnixMilli())
	return err
}

// LoadThread returns the cached snapshot for a chat, or nil if none.
func (db *DB) LoadThread(chatID int64) (*ThreadSnapshot, error) {
	var detailJSON, msgsJSON string
	var savedAt int64
	err := db.QueryRow(`
		SELECT detail, messages, saved_at FROM thread_snapshots WHERE chat_id = ?`, chatID).
		Scan(&detailJSON, &msgsJSON, &savedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap ThreadSnapshot
	snap.SavedAt = savedAt
	if err := json.Unmarshal([]byte(detailJSON), &snap.Detail); err != nil {
		return nil, fmt.Errorf("decode detail: %w", err)
	}
	if err := json.Unmarshal([]byte(msgsJSON), &snap.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return &snap, nil
}

// SaveChatList stores the last known conversation list.
func (db *DB) SaveChatList(chats []model.ChatSummary) error {
	payload, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("encode chat list: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO chat_list (id, payload, saved_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			saved_at = excluded.saved_at`,
		string(payload), time.Now().UnixMilli())
	return err
}

// LoadChatList returns the cached conversation list, or nil if none.
func (db *DB) LoadChatList() ([]model.ChatSummary, error) {
	var payload string
	err := db.QueryRow(`SELECT payload FROM chat_list WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var chats []model.ChatSummary
	if err := json.Unmarshal([]byte(payload), &chats); err != nil {
		return nil, fmt.Errorf("decode chat list: %w", err)
	}
	return chats, nil
}
