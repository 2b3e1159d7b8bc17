package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"privcomm/internal/domain"
)

const (
	identityFile = "identity.enc"
	prekeysFile  = "prekeys.enc"
	sessionsFile = "sessions.enc"
)

// FileStore keeps identity, pre-key, and session state in encrypted files
// under a single directory. It implements domain.IdentityStore,
// domain.PreKeyStore, and domain.SessionStore.
type FileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir, sealing every file with
// passphrase.
func NewFileStore(dir, passphrase string) *FileStore {
	return &FileStore{dir: dir, passphrase: passphrase}
}

// prekeyState is the single encrypted record holding all pre-key material.
type prekeyState struct {
	NextID     domain.PreKeyID                               `json:"next_id"`
	CurrentSPK domain.PreKeyID                               `json:"current_spk"`
	Signed     map[domain.PreKeyID]domain.SignedPreKeyPair   `json:"signed"`
	OneTime    map[domain.PreKeyID]domain.OneTimePreKeyPair  `json:"one_time"`
}

// ---------- Identity ----------

// SaveIdentity seals and writes the local identity.
func (s *FileStore) SaveIdentity(id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.writeSealed(identityFile, raw)
}

// LoadIdentity reads and unseals the local identity.
func (s *FileStore) LoadIdentity() (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id domain.Identity
	if err := s.readSealed(identityFile, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// HasIdentity reports whether an identity file exists.
func (s *FileStore) HasIdentity() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, identityFile))
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

// DeleteIdentity removes the identity file (account wipe).
func (s *FileStore) DeleteIdentity() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, identityFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ---------- Pre-keys ----------

// NextPreKeyID allocates the next pre-key id, starting at 1.
func (s *FileStore) NextPreKeyID() (domain.PreKeyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return 0, err
	}
	st.NextID++
	id := st.NextID
	return id, s.savePrekeys(st)
}

// SaveSignedPreKey stores a signed pre-key pair by id.
func (s *FileStore) SaveSignedPreKey(pair domain.SignedPreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return err
	}
	st.Signed[pair.ID] = pair
	return s.savePrekeys(st)
}

// LoadSignedPreKey retrieves a signed pre-key pair by id.
func (s *FileStore) LoadSignedPreKey(id domain.PreKeyID) (domain.SignedPreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return domain.SignedPreKeyPair{}, false, err
	}
	p, ok := st.Signed[id]
	return p, ok, nil
}

// SetCurrentSignedPreKeyID records which signed pre-key id is current.
func (s *FileStore) SetCurrentSignedPreKeyID(id domain.PreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return err
	}
	st.CurrentSPK = id
	return s.savePrekeys(st)
}

// CurrentSignedPreKeyID returns the recorded current signed pre-key id.
func (s *FileStore) CurrentSignedPreKeyID() (domain.PreKeyID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return 0, false, err
	}
	return st.CurrentSPK, st.CurrentSPK != 0, nil
}

// SaveOneTimePreKeys merges the provided one-time pre-key pairs into the store.
func (s *FileStore) SaveOneTimePreKeys(pairs []domain.OneTimePreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		st.OneTime[p.ID] = p
	}
	return s.savePrekeys(st)
}

// LoadOneTimePreKey returns a one-time pre-key by id, leaving it in place.
func (s *FileStore) LoadOneTimePreKey(id domain.PreKeyID) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	p, ok := st.OneTime[id]
	return p, ok, nil
}

// ConsumeOneTimePreKey removes and returns a one-time pre-key by id. The
// private half is gone from disk once this returns.
func (s *FileStore) ConsumeOneTimePreKey(id domain.PreKeyID) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	p, ok := st.OneTime[id]
	if !ok {
		return domain.OneTimePreKeyPair{}, false, nil
	}
	delete(st.OneTime, id)
	if err := s.savePrekeys(st); err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	return p, true, nil
}

// CountOneTimePreKeys returns the remaining one-time pre-key inventory.
func (s *FileStore) CountOneTimePreKeys() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return 0, err
	}
	return len(st.OneTime), nil
}

// ListOneTimePreKeyPublics exposes only the public halves for bundling.
func (s *FileStore) ListOneTimePreKeyPublics() ([]domain.OneTimePreKeyPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadPrekeys()
	if err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePreKeyPublic, 0, len(st.OneTime))
	for id, p := range st.OneTime {
		out = append(out, domain.OneTimePreKeyPublic{ID: id, Pub: p.Pub})
	}
	return out, nil
}

// ---------- Sessions ----------

// SaveSession writes the session for peer.
func (s *FileStore) SaveSession(peer domain.PeerID, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadSessions()
	if err != nil {
		return err
	}
	m[peer] = sess
	return s.saveSessions(m)
}

// LoadSession retrieves the session for peer.
func (s *FileStore) LoadSession(peer domain.PeerID) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadSessions()
	if err != nil {
		return domain.Session{}, false, err
	}
	sess, ok := m[peer]
	return sess, ok, nil
}

// DeleteSession removes the session for peer, if any.
func (s *FileStore) DeleteSession(peer domain.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadSessions()
	if err != nil {
		return err
	}
	if _, ok := m[peer]; !ok {
		return nil
	}
	delete(m, peer)
	return s.saveSessions(m)
}

// ---------- sealed file helpers ----------

func (s *FileStore) loadPrekeys() (prekeyState, error) {
	st := prekeyState{
		Signed:  map[domain.PreKeyID]domain.SignedPreKeyPair{},
		OneTime: map[domain.PreKeyID]domain.OneTimePreKeyPair{},
	}
	if err := s.readSealed(prekeysFile, &st); err != nil {
		return prekeyState{}, err
	}
	if st.Signed == nil {
		st.Signed = map[domain.PreKeyID]domain.SignedPreKeyPair{}
	}
	if st.OneTime == nil {
		st.OneTime = map[domain.PreKeyID]domain.OneTimePreKeyPair{}
	}
	return st, nil
}

func (s *FileStore) savePrekeys(st prekeyState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.writeSealed(prekeysFile, raw)
}

func (s *FileStore) loadSessions() (map[domain.PeerID]domain.Session, error) {
	m := map[domain.PeerID]domain.Session{}
	if err := s.readSealed(sessionsFile, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *FileStore) saveSessions(m map[domain.PeerID]domain.Session) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.writeSealed(sessionsFile, raw)
}

// readSealed unseals name into out; a missing file leaves out untouched.
func (s *FileStore) readSealed(name string, out any) error {
	b, err := readFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	if b == nil {
		if name == identityFile {
			return os.ErrNotExist
		}
		return nil
	}
	raw, err := unseal(s.passphrase, b)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *FileStore) writeSealed(name string, raw []byte) error {
	ct, err := seal(s.passphrase, raw)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, name), ct, 0o600)
}

// Compile-time assertions.
var (
	_ domain.IdentityStore = (*FileStore)(nil)
	_ domain.PreKeyStore   = (*FileStore)(nil)
	_ domain.SessionStore  = (*FileStore)(nil)
)
