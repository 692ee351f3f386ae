package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/teemow/teamsmcp/internal/logging"
)

// Store persists one Credential per user identity. Implementations must make
// Put an atomic full replace: a concurrent Get never observes a half-written
// record.
type Store interface {
	// Get returns the credential for the user identity, or
	// ErrCredentialNotFound.
	Get(userIdentity string) (*Credential, error)

	// Put atomically replaces the credential for its user identity.
	Put(cred *Credential) error

	// Delete removes the credential for the user identity, or returns
	// ErrCredentialNotFound if none exists.
	Delete(userIdentity string) error

	// ListAll returns every stored credential. Used only by the
	// single-user fallback.
	ListAll() ([]*Credential, error)
}

// FileStore is a Store keeping one JSON file per user identity under a
// directory. Writes go through a temp file and os.Rename so readers either
// see the old record or the new one, and records survive process restart.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// DefaultCredentialsDir returns the default credentials directory,
// preferring an explicit TEAMSMCP_CREDENTIALS_DIR override, then a
// per-user dot directory, then the working directory.
func DefaultCredentialsDir() string {
	if dir := os.Getenv("TEAMSMCP_CREDENTIALS_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".teamsmcp", "credentials")
	}
	return filepath.Join(".", ".credentials")
}

// NewFileStore creates a file-backed credential store rooted at dir,
// creating the directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating credentials directory %s: %v", ErrStorageUnavailable, dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the directory the store writes into.
func (s *FileStore) Dir() string {
	return s.dir
}

// credentialPath maps a user identity to its file. The identity is an email
// address; anything that could escape the directory is rejected upstream by
// sanitizeIdentity.
func (s *FileStore) credentialPath(userIdentity string) string {
	return filepath.Join(s.dir, sanitizeIdentity(userIdentity)+".json")
}

// sanitizeIdentity makes a user identity safe to use as a file name.
func sanitizeIdentity(userIdentity string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", string(os.PathSeparator), "_")
	return replacer.Replace(userIdentity)
}

// Get implements Store.
func (s *FileStore) Get(userIdentity string) (*Credential, error) {
	if userIdentity == "" {
		return nil, ErrCredentialNotFound
	}

	data, err := os.ReadFile(s.credentialPath(userIdentity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: reading credential for %s: %v", ErrStorageUnavailable, userIdentity, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		// A corrupt record must never crash the store. Log it and report
		// not-found so the user is pushed through the auth flow again.
		s.logger.Warn("corrupt credential record, treating as not found",
			logging.UserHash(userIdentity),
			logging.Err(err))
		return nil, ErrCredentialNotFound
	}
	if cred.UserIdentity == "" {
		cred.UserIdentity = userIdentity
	}
	return &cred, nil
}

// Put implements Store. The record is marshalled to a temp file in the same
// directory and renamed into place, which is atomic on POSIX filesystems.
func (s *FileStore) Put(cred *Credential) error {
	if cred == nil || cred.UserIdentity == "" {
		return fmt.Errorf("credential must have a user identity")
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshalling credential for %s: %w", cred.UserIdentity, err)
	}

	target := s.credentialPath(cred.UserIdentity)
	tmp, err := os.CreateTemp(s.dir, ".cred-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: setting credential file mode: %v", ErrStorageUnavailable, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing credential for %s: %v", ErrStorageUnavailable, cred.UserIdentity, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing credential file: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("%w: replacing credential for %s: %v", ErrStorageUnavailable, cred.UserIdentity, err)
	}

	s.logger.Debug("credential saved",
		logging.UserHash(cred.UserIdentity),
		slog.Time("expiry", cred.Expiry))
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(userIdentity string) error {
	if userIdentity == "" {
		return ErrCredentialNotFound
	}
	err := os.Remove(s.credentialPath(userIdentity))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("%w: deleting credential for %s: %v", ErrStorageUnavailable, userIdentity, err)
	}
	s.logger.Info("credential deleted", logging.UserHash(userIdentity))
	return nil
}

// ListAll implements Store. Corrupt records are logged and skipped.
func (s *FileStore) ListAll() ([]*Credential, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: listing credentials: %v", ErrStorageUnavailable, err)
	}

	var creds []*Credential
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable credential file",
				slog.String("file", entry.Name()),
				logging.Err(err))
			continue
		}
		var cred Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			s.logger.Warn("skipping corrupt credential file",
				slog.String("file", entry.Name()),
				logging.Err(err))
			continue
		}
		creds = append(creds, &cred)
	}
	return creds, nil
}
