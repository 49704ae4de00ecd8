// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"os"
	"time"

	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Issuer issues credentials for the gateway
type Issuer interface {
	Issue() (*Credential, error)
}

// Supported signing algorithms
const (
	RS256 = "RS256"
	ES256 = "ES256"
)

// DefaultExpiry is used when no expiry is given
var DefaultExpiry = 1200 * time.Minute

// NewJWTIssuer returns a new Issuer that signs JWTs with the private key in keyFile.
// The key file is read on every call to Issue, so that it can be replaced while running.
func NewJWTIssuer(ctx log.Interface, projectID, keyFile, algorithm string, expiry time.Duration) (*JWTIssuer, error) {
	if signingMethod(algorithm) == nil {
		return nil, errors.Wrapf(types.ErrConfig, "unsupported algorithm %q", algorithm)
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &JWTIssuer{
		ctx:       ctx.WithField("Algorithm", algorithm),
		projectID: projectID,
		keyFile:   keyFile,
		algorithm: algorithm,
		expiry:    expiry,
		now:       time.Now,
	}, nil
}

// JWTIssuer signs {iat, exp, aud} claims with an RSA or EC private key
type JWTIssuer struct {
	ctx       log.Interface
	projectID string
	keyFile   string
	algorithm string
	expiry    time.Duration
	now       func() time.Time
}

// Expiry of the issued credentials
func (i *JWTIssuer) Expiry() time.Duration {
	return i.expiry
}

func signingMethod(algorithm string) jwt.SigningMethod {
	switch algorithm {
	case RS256:
		return jwt.SigningMethodRS256
	case ES256:
		return jwt.SigningMethodES256
	}
	return nil
}

func (i *JWTIssuer) privateKey() (interface{}, error) {
	pem, err := os.ReadFile(i.keyFile)
	if err != nil {
		return nil, errors.Wrap(types.ErrConfig, err.Error())
	}
	var key interface{}
	switch i.algorithm {
	case RS256:
		key, err = jwt.ParseRSAPrivateKeyFromPEM(pem)
	case ES256:
		key, err = jwt.ParseECPrivateKeyFromPEM(pem)
	default:
		return nil, errors.Wrapf(types.ErrConfig, "unsupported algorithm %q", i.algorithm)
	}
	if err != nil {
		return nil, errors.Wrapf(types.ErrConfig, "could not parse %s: %s", i.keyFile, err)
	}
	return key, nil
}

// Issue implements the Issuer interface
func (i *JWTIssuer) Issue() (*Credential, error) {
	key, err := i.privateKey()
	if err != nil {
		return nil, err
	}
	now := i.now().Truncate(time.Second)
	expires := now.Add(i.expiry)
	token := jwt.NewWithClaims(signingMethod(i.algorithm), jwt.MapClaims{
		"iat": now.Unix(),
		"exp": expires.Unix(),
		"aud": i.projectID,
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return nil, errors.Wrap(types.ErrConfig, err.Error())
	}
	i.ctx.WithField("ExpiresAt", expires).Debug("Issued credential")
	return &Credential{
		Token:     signed,
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}
