package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"sweeparr/internal/crypto"
)

// Store is the mirror: the single source of truth for catalog,
// engagement, and quality, plus every configuration table the engine
// reads.
type Store struct {
	db        *sql.DB
	encryptor *crypto.Encryptor
}

type Option func(*Store)

// WithEncryptor enables at-rest encryption of server tokens and
// integration API keys.
func WithEncryptor(e *crypto.Encryptor) Option {
	return func(s *Store) { s.encryptor = e }
}

func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// HasEncryptor reports whether the store was initialized with an
// encryption key.
func (s *Store) HasEncryptor() bool {
	return s.encryptor != nil
}

// SetEncryptor installs the at-rest encryptor after construction. The
// key salt lives in system_config, so startup has to open the store,
// load the salt, and only then derive the key. Must be called before
// any credential writes.
func (s *Store) SetEncryptor(e *crypto.Encryptor) {
	s.encryptor = e
}

func (s *Store) encrypt(plaintext string) (string, error) {
	if s.encryptor == nil {
		return plaintext, nil
	}
	return s.encryptor.Encrypt(plaintext)
}

func (s *Store) decrypt(ciphertext string) (string, error) {
	if s.encryptor == nil {
		return ciphertext, nil
	}
	out, err := s.encryptor.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypting stored credential: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping() error {
	return s.db.Ping()
}
