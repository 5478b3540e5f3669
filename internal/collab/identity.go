package collab

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dyluth/stave/pkg/protocol"
	"go.etcd.io/bbolt"
)

// Identity is the local user. It is generated once per identity store and
// reused afterwards.
type Identity struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// IdentityStore persists the local identity between runs.
type IdentityStore interface {
	// LoadIdentity returns the stored identity, or ok=false if none exists yet.
	LoadIdentity() (id Identity, ok bool, err error)
	SaveIdentity(id Identity) error
}

// LoadIdentity returns the identity held by store, generating and saving a
// new one on first use. defaultName is used as the display name of a new
// identity; when empty a name is derived from the id.
//
// Two calls against the same store always return the same identity.
func LoadIdentity(store IdentityStore, defaultName string) (Identity, error) {
	id, ok, err := store.LoadIdentity()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to load identity: %w", err)
	}
	if ok {
		return id, nil
	}

	suffix := protocol.RandomSuffix(9)
	id = Identity{
		UserID:   "local-" + suffix,
		UserName: defaultName,
	}
	if id.UserName == "" {
		id.UserName = "User " + strings.ToUpper(suffix[:4])
	}

	if err := store.SaveIdentity(id); err != nil {
		return Identity{}, fmt.Errorf("failed to save identity: %w", err)
	}
	return id, nil
}

// MemoryIdentityStore keeps the identity in process memory.
type MemoryIdentityStore struct {
	mu sync.Mutex
	id *Identity
}

func (s *MemoryIdentityStore) LoadIdentity() (Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == nil {
		return Identity{}, false, nil
	}
	return *s.id, true, nil
}

func (s *MemoryIdentityStore) SaveIdentity(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = &id
	return nil
}

var (
	bucketIdentity = []byte("identity")
	keyIdentity    = []byte("local")
)

// BoltIdentityStore keeps the identity in a bbolt file, typically
// identity.db inside the data directory.
type BoltIdentityStore struct {
	db *bbolt.DB
}

// OpenBoltIdentityStore opens (or creates) the identity database at path.
func OpenBoltIdentityStore(path string) (*BoltIdentityStore, error) {
	opts := &bbolt.Options{Timeout: 0}
	db, err := bbolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdentity)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: init bucket: %w", err)
	}

	return &BoltIdentityStore{db: db}, nil
}

func (s *BoltIdentityStore) LoadIdentity() (Identity, bool, error) {
	var id Identity
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketIdentity).Get(keyIdentity)
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &id)
	})
	if err != nil {
		return Identity{}, false, fmt.Errorf("identity: read: %w", err)
	}
	return id, found, nil
}

func (s *BoltIdentityStore) SaveIdentity(id Identity) error {
	val, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(keyIdentity, val)
	})
}

// Close closes the underlying bbolt database.
func (s *BoltIdentityStore) Close() error {
	return s.db.Close()
}
