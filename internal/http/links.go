package http

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/downloader"
)

var ErrInvalidLink = errors.New("invalid or expired download link")

// Links builds archive retrieval URLs. With a secret set every URL carries a
// short-lived HS256 token bound to the job id.
type Links struct {
	BaseURL string
	Secret  []byte
	TTL     time.Duration
	now     func() time.Time
}

func NewLinks(baseURL, secret string, ttl time.Duration) *Links {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Links{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  []byte(secret),
		TTL:     ttl,
		now:     time.Now,
	}
}

func (l *Links) Signed() bool { return len(l.Secret) > 0 }

func (l *Links) ArchiveURL(job *domain.Job) (string, error) {
	u := l.BaseURL + "/api/file/" + url.PathEscape(job.ID)
	if !l.Signed() {
		return u, nil
	}
	token, err := l.Sign(job.ID)
	if err != nil {
		return "", err
	}
	return u + "?token=" + url.QueryEscape(token), nil
}

func (l *Links) Sign(jobID string) (string, error) {
	now := l.now()
	claims := jwt.RegisteredClaims{
		Subject:   jobID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(l.TTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.Secret)
	if err != nil {
		return "", fmt.Errorf("sign link: %w", err)
	}
	return signed, nil
}

// Verify checks that token was issued by Sign for jobID and has not expired.
// Unsigned links always verify.
func (l *Links) Verify(jobID, token string) error {
	if !l.Signed() {
		return nil
	}
	if token == "" {
		return ErrInvalidLink
	}
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return l.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(jobID),
		jwt.WithTimeFunc(l.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	return nil
}

var _ downloader.LinkBuilder = (*Links)(nil)
