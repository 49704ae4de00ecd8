// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
	redis "gopkg.in/redis.v5"
)

func getRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:6379", os.Getenv("REDIS_HOST")),
		Password: "", // no password set
		DB:       1,
	})
}

type countingIssuer struct {
	issued int
	fail   bool
}

func (c *countingIssuer) Issue() (*Credential, error) {
	if c.fail {
		return nil, errors.New("no key")
	}
	c.issued++
	now := time.Now().Truncate(time.Second)
	return &Credential{
		Token:     fmt.Sprintf("token-%d", c.issued),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}, nil
}

func TestAuth(t *testing.T) {
	Convey("Given a new Context", t, func(c C) {

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

		Convey("Given a new auth.Memory", func() {
			a := NewMemory()
			Convey("When running the standardized test", standardizedTest(a))
		})

		if os.Getenv("REDIS_HOST") != "" {
			Convey("Given a new auth.Redis", func() {
				a := NewRedis(ctx, getRedisClient(), "test-auth:")
				Convey("When running the standardized test", standardizedTest(a))
			})
		}

	})
}

func standardizedTest(a Interface) func() {
	return func() {
		Convey("When getting the credential for an unknown identity", func() {
			_, err := a.GetToken("unknown-identity")
			Convey("There should be a NotFound error", func() {
				So(err, ShouldNotBeNil)
				So(err, ShouldEqual, ErrIdentityNotFound)
			})
		})

		Convey("When setting a credential", func() {
			now := time.Now().Truncate(time.Second)
			err := a.SetToken("identity-with-token", &Credential{
				Token:     "the-token",
				IssuedAt:  now,
				ExpiresAt: now.Add(time.Minute),
			})
			Reset(func() {
				a.Delete("identity-with-token")
			})
			Convey("There should be no error", func() {
				So(err, ShouldBeNil)
			})
			Convey("When deleting the identity", func() {
				err := a.Delete("identity-with-token")
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
				Convey("When getting the credential", func() {
					_, err := a.GetToken("identity-with-token")
					Convey("There should be a NotFound error", func() {
						So(err, ShouldNotBeNil)
						So(err, ShouldEqual, ErrIdentityNotFound)
					})
				})
			})
			Convey("When getting the credential", func() {
				credential, err := a.GetToken("identity-with-token")
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
				Convey("The credential should be the one we set", func() {
					So(credential.Token, ShouldEqual, "the-token")
					So(credential.IssuedAt.Equal(now), ShouldBeTrue)
				})
			})
		})

		Convey("When setting an Issuer", func() {
			issuer := &countingIssuer{}
			a.SetIssuer(issuer)
			Reset(func() {
				a.SetIssuer(nil)
				a.Delete("issued-identity")
			})

			Convey("When getting the credential twice", func() {
				first, err := a.GetToken("issued-identity")
				So(err, ShouldBeNil)
				second, err := a.GetToken("issued-identity")
				So(err, ShouldBeNil)
				Convey("The credential should be issued once", func() {
					So(issuer.issued, ShouldEqual, 1)
					So(second.Token, ShouldEqual, first.Token)
				})
			})

			Convey("When the cached credential is expired", func() {
				now := time.Now().Truncate(time.Second)
				a.SetToken("issued-identity", &Credential{
					Token:     "expired-token",
					IssuedAt:  now.Add(-2 * time.Hour),
					ExpiresAt: now.Add(-time.Hour),
				})
				credential, err := a.GetToken("issued-identity")
				Convey("There should be no error", func() {
					So(err, ShouldBeNil)
				})
				Convey("There should be a new credential", func() {
					So(credential.Token, ShouldNotEqual, "expired-token")
					So(issuer.issued, ShouldEqual, 1)
				})
			})

			Convey("When the Issuer fails", func() {
				issuer.fail = true
				_, err := a.GetToken("issued-identity")
				Convey("There should be an error", func() {
					So(err, ShouldNotBeNil)
				})
			})
		})
	}
}
