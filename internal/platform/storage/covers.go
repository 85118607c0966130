package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cinetek/api/internal/services"
)

const defaultCoverURLExpiry = 10 * time.Minute

// CoverSigner resolves catalog cover object paths into short-lived signed URLs.
// Covers are public artwork, so downloads are signed without an owner check.
type CoverSigner struct {
	client *Client
	bucket string
	expiry time.Duration
}

var _ services.CoverURLSigner = (*CoverSigner)(nil)

// CoverSignerOption customises CoverSigner behaviour.
type CoverSignerOption func(*CoverSigner)

// WithCoverURLExpiry overrides the signed URL lifetime.
func WithCoverURLExpiry(expiry time.Duration) CoverSignerOption {
	return func(s *CoverSigner) {
		if expiry > 0 {
			s.expiry = expiry
		}
	}
}

// NewCoverSigner constructs a CoverSigner for the given bucket.
func NewCoverSigner(client *Client, bucket string, opts ...CoverSignerOption) (*CoverSigner, error) {
	if client == nil {
		return nil, errors.New("storage: cover signer requires a client")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errInvalidBucket
	}
	signer := &CoverSigner{
		client: client,
		bucket: strings.TrimSpace(bucket),
		expiry: defaultCoverURLExpiry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(signer)
		}
	}
	return signer, nil
}

// CoverURL returns a time-limited download URL for the given cover object path.
func (s *CoverSigner) CoverURL(ctx context.Context, objectPath string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("storage: cover signer not initialised")
	}
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" {
		return "", errInvalidObject
	}

	result, err := s.client.SignedURL(ctx, s.bucket, objectPath, SignedURLOptions{
		Download: &DownloadOptions{
			ExpiresIn:      s.expiry,
			AllowAnonymous: true,
		},
	})
	if err != nil {
		return "", err
	}
	return result.URL, nil
}
