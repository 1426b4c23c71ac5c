// Package auth resolves the authenticated identity from a session token
// stored on disk and reports when that session changes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned by Require when nobody is signed in.
var ErrNoSession = errors.New("no active session")

// Session is the signed-in identity.
type Session struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Sessions reads the session token kept in a file. When a secret is set the
// token signature is verified (HS256); otherwise the token is trusted as
// written by the sign-in flow.
type Sessions struct {
	path   string
	secret []byte
	logger *slog.Logger
}

// NewSessions returns a reader for the token file at path.
func NewSessions(path, secret string, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{path: path, secret: []byte(secret), logger: logger}
}

// Path returns the session file location.
func (s *Sessions) Path() string {
	return s.path
}

// Current returns the active session, or nil when there is no token file or
// the token has expired.
func (s *Sessions) Current(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return nil, nil
	}

	c, err := s.parse(token)
	if errors.Is(err, jwt.ErrTokenExpired) {
		s.logger.Debug("Session expired", "path", s.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("session token has no subject")
	}

	session := &Session{UserID: c.Subject, Email: c.Email}
	if c.ExpiresAt != nil {
		session.ExpiresAt = c.ExpiresAt.Time
	}
	return session, nil
}

// Require is Current that fails with ErrNoSession instead of returning nil.
func (s *Sessions) Require(ctx context.Context) (*Session, error) {
	session, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	return session, nil
}

func (s *Sessions) parse(token string) (*claims, error) {
	var c claims
	if len(s.secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
			return nil, err
		}
		if c.ExpiresAt != nil && c.ExpiresAt.Before(time.Now()) {
			return nil, jwt.ErrTokenExpired
		}
		return &c, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return &c, nil
}

// Save writes token as the current session.
func (s *Sessions) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Clear signs out by removing the session file.
func (s *Sessions) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Issue signs a session token for userID with secret.
func Issue(secret, userID, email string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("a secret is required to issue tokens")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Watch emits on the returned channel whenever the session file is written,
// replaced or removed. The directory holding the file is watched so that
// atomic renames are seen. The channel is closed when ctx is done.
func (s *Sessions) Watch(ctx context.Context) (<-chan struct{}, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}

	changes := make(chan struct{}, 1)
	name := filepath.Base(s.path)
	go func() {
		defer close(changes)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name || event.Op == fsnotify.Chmod {
					continue
				}
				select {
				case changes <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Session watcher error", "error", err)
			}
		}
	}()
	return changes, nil
}
