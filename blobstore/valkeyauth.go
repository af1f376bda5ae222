package blobstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/chinmina/iamcacheauth"
	"github.com/valkey-io/valkey-go"
)

// StaticCredentialsFn adapts a fixed username and password to the
// valkey-go AuthCredentialsFn shape.
func StaticCredentialsFn(username, password string) func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
	return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
		return valkey.AuthCredentials{
			Username: username,
			Password: password,
		}, nil
	}
}

// IAMCredentialsFn returns an AuthCredentialsFn that signs a fresh
// ElastiCache IAM token for every new connection, using an iamcacheauth
// TokenGenerator built from the store and AWS configuration.
//
// The aws.Config parameter lets tests inject static credentials.
func IAMCredentialsFn(cfg ValkeyConfig, awsCfg aws.Config) (func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error), error) {
	var opts []iamcacheauth.Option
	if cfg.IAMServerless {
		opts = append(opts, iamcacheauth.WithServerless())
	}

	gen, err := iamcacheauth.NewElastiCache(cfg.Username, cfg.IAMCacheName, awsCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating IAM token generator: %w", err)
	}

	username := cfg.Username
	return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
		// AuthCredentialsFn doesn't accept a context.Context. Token signing
		// is local CPU work; the context only bounds credential retrieval.
		// A fresh Background context avoids holding a startup context that
		// may be cancelled by the time connections are re-established.
		token, err := gen.Token(context.Background())
		if err != nil {
			return valkey.AuthCredentials{}, fmt.Errorf("generating IAM auth token: %w", err)
		}
		return valkey.AuthCredentials{
			Username: username,
			Password: token,
		}, nil
	}, nil
}
