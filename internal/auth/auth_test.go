package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func TestCurrent(t *testing.T) {
	ctx := context.Background()

	valid, err := Issue(secret, "u1", "a@b.c", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	expired, err := Issue(secret, "u1", "a@b.c", -time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	forged, err := Issue("other-secret", "u1", "a@b.c", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	testCases := []struct {
		name     string
		token    string
		secret   string
		wantUser string
		wantErr  bool
	}{
		{name: "no file"},
		{name: "valid", token: valid, secret: secret, wantUser: "u1"},
		{name: "expired", token: expired, secret: secret},
		{name: "bad signature", token: forged, secret: secret, wantErr: true},
		{name: "unverified without secret", token: forged, wantUser: "u1"},
		{name: "expired without secret", token: expired},
		{name: "garbage", token: "not-a-jwt", secret: secret, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSessions(filepath.Join(t.TempDir(), "session"), tc.secret, nil)
			if tc.token != "" {
				if err := s.Save(tc.token); err != nil {
					t.Fatalf("Save failed: %v", err)
				}
			}
			session, err := s.Current(ctx)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Current failed: %v", err)
			}
			if tc.wantUser == "" {
				if session != nil {
					t.Errorf("expected no session, got %+v", session)
				}
				return
			}
			if session == nil || session.UserID != tc.wantUser || session.Email != "a@b.c" {
				t.Errorf("session = %+v, want user %s", session, tc.wantUser)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	s := NewSessions(filepath.Join(t.TempDir(), "session"), secret, nil)
	if _, err := s.Require(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Require = %v, want ErrNoSession", err)
	}
}

func TestRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	s := NewSessions(filepath.Join(t.TempDir(), "session"), secret, nil)
	if err := s.Save(signed); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Current(context.Background()); err == nil {
		t.Error("expected HS512 token to be rejected")
	}
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewSessions(filepath.Join(t.TempDir(), "session"), secret, nil)
	changes, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	token, _ := Issue(secret, "u1", "", time.Hour)
	if err := s.Save(token); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported after sign-in")
	}

	cancel()
	for range changes {
	}
}
