// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"sync"
	"time"
)

// Memory implements the authentication interface with an in-memory backend
type Memory struct {
	credentials map[string]*Credential
	mu          sync.Mutex
	Issuer
}

// NewMemory returns a new authentication interface with an in-memory backend
func NewMemory() Interface {
	return &Memory{
		credentials: make(map[string]*Credential),
	}
}

// SetToken sets the credential for an identity
func (m *Memory) SetToken(identity string, credential *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[identity] = credential
	return nil
}

// Delete the credential of an identity
func (m *Memory) Delete(identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, identity)
	return nil
}

// GetToken returns a valid credential for the identity
func (m *Memory) GetToken(identity string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credential, ok := m.credentials[identity]
	if ok && !credential.Expired(time.Now()) {
		return credential, nil
	}
	if m.Issuer == nil {
		if !ok {
			return nil, ErrIdentityNotFound
		}
		return nil, ErrNoValidToken
	}
	credential, err := m.Issue()
	if err != nil {
		return nil, err
	}
	m.credentials[identity] = credential
	return credential, nil
}

// SetIssuer sets the component that will issue new credentials
func (m *Memory) SetIssuer(i Issuer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Issuer = i
}
