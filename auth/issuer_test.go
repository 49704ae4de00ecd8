// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheThingsNetwork/udp-gateway-bridge/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func writeKey(dir, name, blockType string, der []byte) string {
	file := filepath.Join(dir, name)
	err := os.WriteFile(file, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0600)
	So(err, ShouldBeNil)
	return file
}

func TestJWTIssuer(t *testing.T) {
	Convey("Given a new Context and a key directory", t, func(c C) {

		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		dir := t.TempDir()
		now := time.Date(2017, 6, 1, 12, 0, 0, 0, time.UTC)

		Convey("When creating an Issuer with an unsupported algorithm", func() {
			_, err := NewJWTIssuer(ctx, "my-project", "key.pem", "HS256", time.Hour)
			Convey("There should be a configuration error", func() {
				So(errors.Is(err, types.ErrConfig), ShouldBeTrue)
			})
		})

		Convey("Given an RSA key", func() {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			So(err, ShouldBeNil)
			file := writeKey(dir, "rsa_private.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))

			issuer, err := NewJWTIssuer(ctx, "my-project", file, RS256, 20*time.Minute)
			So(err, ShouldBeNil)
			issuer.now = func() time.Time { return now }

			Convey("When issuing a credential", func() {
				credential, err := issuer.Issue()
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
				Convey("The times should follow the expiry window", func() {
					So(credential.IssuedAt, ShouldEqual, now)
					So(credential.ExpiresAt, ShouldEqual, now.Add(20*time.Minute))
				})
				Convey("The token should carry the claims", func() {
					claims := jwt.MapClaims{}
					_, err := jwt.ParseWithClaims(credential.Token, claims, func(*jwt.Token) (interface{}, error) {
						return &key.PublicKey, nil
					}, jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{RS256}))
					So(err, ShouldBeNil)
					So(claims["aud"], ShouldEqual, "my-project")
					So(claims["iat"], ShouldEqual, float64(now.Unix()))
					So(claims["exp"], ShouldEqual, float64(now.Add(20*time.Minute).Unix()))
				})
			})

			Convey("When the key file is removed", func() {
				os.Remove(file)
				_, err := issuer.Issue()
				Convey("There should be a configuration error", func() {
					So(errors.Is(err, types.ErrConfig), ShouldBeTrue)
				})
			})

			Convey("When using the key with the wrong algorithm", func() {
				issuer, err := NewJWTIssuer(ctx, "my-project", file, ES256, time.Hour)
				So(err, ShouldBeNil)
				_, err = issuer.Issue()
				Convey("There should be a configuration error", func() {
					So(errors.Is(err, types.ErrConfig), ShouldBeTrue)
				})
			})
		})

		Convey("Given an EC key", func() {
			key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			So(err, ShouldBeNil)
			der, err := x509.MarshalECPrivateKey(key)
			So(err, ShouldBeNil)
			file := writeKey(dir, "ec_private.pem", "EC PRIVATE KEY", der)

			issuer, err := NewJWTIssuer(ctx, "my-project", file, ES256, 0)
			So(err, ShouldBeNil)

			Convey("When issuing a credential", func() {
				credential, err := issuer.Issue()
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
				Convey("The default expiry should be used", func() {
					So(issuer.Expiry(), ShouldEqual, DefaultExpiry)
					So(credential.ExpiresAt.Sub(credential.IssuedAt), ShouldEqual, DefaultExpiry)
				})
				Convey("The token should be signed with the key", func() {
					_, err := jwt.Parse(credential.Token, func(*jwt.Token) (interface{}, error) {
						return &key.PublicKey, nil
					}, jwt.WithValidMethods([]string{ES256}))
					So(err, ShouldBeNil)
				})
			})
		})

		Convey("Given a file that is not a key", func() {
			file := filepath.Join(dir, "garbage.pem")
			So(os.WriteFile(file, []byte("garbage"), 0600), ShouldBeNil)
			issuer, err := NewJWTIssuer(ctx, "my-project", file, RS256, time.Hour)
			So(err, ShouldBeNil)
			Convey("When issuing a credential", func() {
				_, err := issuer.Issue()
				Convey("There should be a configuration error", func() {
					So(errors.Is(err, types.ErrConfig), ShouldBeTrue)
				})
			})
		})
	})
}
