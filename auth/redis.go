// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"time"

	"github.com/apex/log"
	redis "gopkg.in/redis.v5"
)

// Redis implements the authentication interface with a Redis backend
type Redis struct {
	ctx    log.Interface
	prefix string
	client *redis.Client
	Issuer
}

// DefaultRedisPrefix is used as prefix when no prefix is given
var DefaultRedisPrefix = "credential:"

var redisKey = struct {
	token     string
	issuedAt  string
	expiresAt string
}{
	token:     "token",
	issuedAt:  "issued_at",
	expiresAt: "expires_at",
}

// NewRedis returns a new authentication interface with a redis backend
func NewRedis(ctx log.Interface, client *redis.Client, prefix string) Interface {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		ctx:    ctx.WithField("Store", "Redis"),
		client: client,
		prefix: prefix,
	}
}

// SetToken sets the credential for an identity. The key expires together with the credential.
func (r *Redis) SetToken(identity string, credential *Credential) error {
	key := r.prefix + identity
	data := map[string]string{
		redisKey.token:     credential.Token,
		redisKey.issuedAt:  credential.IssuedAt.Format(time.RFC3339),
		redisKey.expiresAt: credential.ExpiresAt.Format(time.RFC3339),
	}
	if err := r.client.HMSet(key, data).Err(); err != nil {
		return err
	}
	if !credential.ExpiresAt.IsZero() {
		return r.client.ExpireAt(key, credential.ExpiresAt).Err()
	}
	return nil
}

// Delete the credential of an identity
func (r *Redis) Delete(identity string) error {
	return r.client.Del(r.prefix + identity).Err()
}

func (r *Redis) get(identity string) (*Credential, error) {
	res, err := r.client.HGetAll(r.prefix + identity).Result()
	if err == redis.Nil || (err == nil && len(res) == 0) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	credential := &Credential{Token: res[redisKey.token]}
	if credential.IssuedAt, err = time.Parse(time.RFC3339, res[redisKey.issuedAt]); err != nil {
		return nil, err
	}
	if credential.ExpiresAt, err = time.Parse(time.RFC3339, res[redisKey.expiresAt]); err != nil {
		return nil, err
	}
	return credential, nil
}

// GetToken returns a valid credential for the identity
func (r *Redis) GetToken(identity string) (*Credential, error) {
	credential, err := r.get(identity)
	if err == nil && credential.Token != "" && !credential.Expired(time.Now()) {
		return credential, nil
	}
	if r.Issuer == nil {
		if err != nil {
			return nil, err
		}
		return nil, ErrNoValidToken
	}
	credential, err = r.Issue()
	if err != nil {
		return nil, err
	}
	if err := r.SetToken(identity, credential); err != nil {
		r.ctx.WithError(err).Warn("Could not store credential")
	}
	return credential, nil
}

// SetIssuer sets the component that will issue new credentials
func (r *Redis) SetIssuer(i Issuer) {
	r.Issuer = i
}
