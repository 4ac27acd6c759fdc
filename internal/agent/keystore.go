package agent

import "time"

// keyStore is the agent's single cached key slot. A later Put replaces the
// previous key unconditionally; there is no per-user multiplexing. The
// server serializes all access, so the store itself needs no locking.
type keyStore struct {
	username  string
	keyHex    string
	expiresAt time.Time // zero when the key never expires
}

func (s *keyStore) Put(username, keyHex string, ttl time.Duration) {
	s.username = username
	s.keyHex = keyHex
	if ttl > 0 {
		s.expiresAt = time.Now().Add(ttl)
	} else {
		s.expiresAt = time.Time{}
	}
}

func (s *keyStore) Get() (username, keyHex string, expiresAt time.Time, ok bool) {
	if s.keyHex == "" {
		return "", "", time.Time{}, false
	}
	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt) {
		s.Clear()
		return "", "", time.Time{}, false
	}
	return s.username, s.keyHex, s.expiresAt, true
}

func (s *keyStore) Clear() {
	s.username = ""
	s.keyHex = ""
	s.expiresAt = time.Time{}
}
