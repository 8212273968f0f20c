package transport

import (
	"os"
	"path/filepath"
)

// CredentialStore hands the transport a durable, session-scoped namespace for
// its authentication material. The orchestrator never inspects the contents;
// it only provisions and purges namespaces.
type CredentialStore interface {
	// Namespace returns (creating if needed) the directory reserved for the
	// given session's credentials.
	Namespace(sessionID string) (string, error)

	// Purge removes a session's namespace and everything in it.
	Purge(sessionID string) error
}

// FSStore keeps per-session credential namespaces as subdirectories of Root,
// matching the layout restarts must survive.
type FSStore struct {
	Root string
}

// NewFSStore creates the root directory if needed and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	return &FSStore{Root: root}, nil
}

// Namespace implements CredentialStore.
func (s *FSStore) Namespace(sessionID string) (string, error) {
	dir := filepath.Join(s.Root, sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Purge implements CredentialStore.
func (s *FSStore) Purge(sessionID string) error {
	return os.RemoveAll(filepath.Join(s.Root, sessionID))
}
