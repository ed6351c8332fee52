package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message is one conversation turn. Text is plaintext in memory and
// ciphertext in the sessions table.
type Message struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Record is the decrypted view of a stored session.
type Record struct {
	SessionID string         `json:"session_id"`
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata"`
}

// Empty is the sentinel Get returns for missing or unreadable sessions.
func Empty(id string) Record {
	return Record{SessionID: id, Messages: []Message{}, Metadata: map[string]any{}}
}

// IsEmpty reports whether r holds no history.
func (r Record) IsEmpty() bool { return len(r.Messages) == 0 && len(r.Metadata) == 0 }

// Cipher seals message text at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// Store persists encrypted session history in the sessions table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	cipher  Cipher
	log     zerolog.Logger
}

func New(db *sql.DB, dialect Dialect, c Cipher, logger zerolog.Logger) *Store {
	return &Store{db: db, dialect: dialect, cipher: c, log: logger.With().Str("component", "session").Logger()}
}

// Open connects to the datastore named by driver and verifies it is reachable.
// SQLite databases get their schema bootstrapped; Postgres relies on migrations.
func Open(ctx context.Context, driver, dsn string, c Cipher, logger zerolog.Logger) (*Store, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Driver, d.DSN(dsn))
	if err != nil {
		return nil, err
	}
	if d.maxOpenConns > 0 {
		// sqlite allows one writer; queue writers in the pool instead of failing with SQLITE_BUSY
		db.SetMaxOpenConns(d.maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := New(db, d, c, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the sessions table for dialects that carry an inline schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.dialect.schema == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.dialect.schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the decrypted session. It never fails: any storage, decoding or
// decryption problem is logged and the empty sentinel is returned. A single
// undecryptable message voids the whole read.
func (s *Store) Get(ctx context.Context, id string) Record {
	var rawMessages, rawMetadata []byte
	err := s.db.QueryRowContext(ctx, s.dialect.selectQuery(), id).Scan(&rawMessages, &rawMetadata)
	if errors.Is(err, sql.ErrNoRows) {
		return Empty(id)
	}
	if err != nil {
		s.log.Error().Err(&apperr.StorageError{Op: "get", Err: err}).Str("session_id", id).Msg("read session")
		return Empty(id)
	}

	stored, err := decodeMessages(rawMessages)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("decode session messages")
		return Empty(id)
	}
	meta, err := decodeMetadata(rawMetadata)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("decode session metadata")
		return Empty(id)
	}

	out := make([]Message, 0, len(stored))
	for i, m := range stored {
		text, err := s.cipher.Decrypt(m.Text)
		if err != nil {
			s.log.Error().Err(err).Str("session_id", id).Int("message", i).Msg("decrypt session message")
			return Empty(id)
		}
		out = append(out, Message{Role: m.Role, Text: text, Timestamp: m.Timestamp})
	}
	return Record{SessionID: id, Messages: out, Metadata: meta}
}

// AppendMessage encrypts msg and appends it to the session, creating the
// session on first use. Metadata of an existing session is left untouched.
func (s *Store) AppendMessage(ctx context.Context, id string, msg Message) error {
	return s.AppendMessages(ctx, id, msg)
}

// AppendMessages appends msgs in order within one transaction, so either all
// of them are stored or none are.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	sealed := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		if err := validate(id, msg); err != nil {
			return err
		}
		token, err := s.cipher.Encrypt(msg.Text)
		if err != nil {
			return s.fail("append", id, fmt.Errorf("encrypt: %w", err))
		}
		sealed = append(sealed, Message{Role: msg.Role, Text: token, Timestamp: msg.Timestamp})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("append", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	// The row must exist before it is locked, otherwise two first appends
	// both read an empty history and one overwrites the other.
	if _, err := tx.ExecContext(ctx, s.dialect.ensureQuery(), id); err != nil {
		return s.fail("append", id, err)
	}
	var rawMessages, rawMetadata []byte
	if err := tx.QueryRowContext(ctx, s.dialect.selectLockedQuery(), id).Scan(&rawMessages, &rawMetadata); err != nil {
		return s.fail("append", id, err)
	}
	current, err := decodeMessages(rawMessages)
	if err != nil {
		return s.fail("append", id, err)
	}
	payload, err := json.Marshal(append(current, sealed...))
	if err != nil {
		return s.fail("append", id, err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.updateQuery(), id, string(payload)); err != nil {
		return s.fail("append", id, err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("append", id, err)
	}
	return nil
}

// Clear deletes the session. Deleting a missing session is not an error.
func (s *Store) Clear(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.deleteQuery(), id); err != nil {
		return s.fail("clear", id, err)
	}
	return nil
}

// DeleteSession removes every trace of a session; it is the same as Clear.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.Clear(ctx, id)
}

func (s *Store) fail(op, id string, err error) error {
	serr := &apperr.StorageError{Op: op, Err: err}
	s.log.Error().Err(serr).Str("session_id", id).Msg(op + " session")
	return serr
}

func validate(id string, msg Message) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("session_id", "required")
	}
	switch msg.Role {
	case RoleUser, RoleAgent:
	case "":
		return apperr.Validation("role", "required")
	default:
		return apperr.Validation("role", fmt.Sprintf("must be %q or %q, got %q", RoleUser, RoleAgent, msg.Role))
	}
	if msg.Text == "" {
		return apperr.Validation("text", "required")
	}
	if strings.TrimSpace(msg.Timestamp) == "" {
		return apperr.Validation("timestamp", "required")
	}
	return nil
}

func decodeMessages(raw []byte) ([]Message, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []Message{}, nil
	}
	var out []Message
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return out, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}
