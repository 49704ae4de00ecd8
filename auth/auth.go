// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"errors"
	"time"
)

// Credential is a signed token that the gateway presents to the broker
type Credential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired returns whether the credential is expired at the given time
func (c *Credential) Expired(now time.Time) bool {
	return c == nil || !c.ExpiresAt.After(now)
}

// Interface for gateway authentication
type Interface interface {
	SetToken(identity string, credential *Credential) error

	Delete(identity string) error

	// GetToken returns the credential for an identity; it issues a new credential if necessary
	GetToken(identity string) (*Credential, error)
	SetIssuer(Issuer)
}

// ErrIdentityNotFound is returned when an identity was not found
var ErrIdentityNotFound = errors.New("Identity not found")

// ErrNoValidToken is returned when an identity does not have a valid credential
var ErrNoValidToken = errors.New("Identity does not have a valid credential")
