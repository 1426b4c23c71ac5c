package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
)

var png = []byte("\x89PNG\r\n\x1a\n")

func TestFSStore_UploadAndRemove(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewFSStore(fs, "/blobs", "https://cdn.example.com/images/")

	url, err := s.Upload(ctx, "u1/a.png", png, "image/png")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if url != "https://cdn.example.com/images/u1/a.png" {
		t.Errorf("url = %q", url)
	}
	if ok, _ := afero.Exists(fs, "/blobs/u1/a.png"); !ok {
		t.Fatal("uploaded file missing")
	}

	p, ok := s.PathFromURL(url)
	if !ok || p != "u1/a.png" {
		t.Errorf("PathFromURL(%q) = %q, %v", url, p, ok)
	}

	if err := s.Remove(ctx, []string{p, "u1/never-existed.png"}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Open(p); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after Remove = %v, want ErrNotFound", err)
	}
}

func TestFSStore_RejectsNonImages(t *testing.T) {
	s := NewFSStore(afero.NewMemMapFs(), "/blobs", "https://cdn")
	if _, err := s.Upload(context.Background(), "x.txt", []byte("hi"), "text/plain"); err == nil {
		t.Error("expected text upload to be rejected")
	}
}

func TestFSStore_PathFromURL(t *testing.T) {
	s := NewFSStore(afero.NewMemMapFs(), "/blobs", "https://cdn")
	testCases := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{"https://cdn/u1/a.png", "u1/a.png", true},
		{"https://elsewhere/u1/a.png", "", false},
		{"/home/me/photo.png", "", false},
		{"https://cdn/", "", false},
	}
	for _, tc := range testCases {
		got, ok := s.PathFromURL(tc.url)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("PathFromURL(%q) = %q, %v; want %q, %v", tc.url, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestFSStore_StaysUnderDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFSStore(fs, "/blobs", "https://cdn")
	if _, err := s.Upload(context.Background(), "../../etc/x.png", png, "image/png"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if ok, _ := afero.Exists(fs, "/blobs/etc/x.png"); !ok {
		t.Error("path escaped the blob directory")
	}
}
