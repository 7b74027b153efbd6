package storage_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"badgerline/internal/domain"
	"badgerline/internal/storage"
)

func TestS3UploadPathStyle(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up, err := storage.NewS3(context.Background(), storage.S3Config{
		Bucket:          "evidence",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		Prefix:          "deliveries",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatal(err)
	}
	url, err := up.Upload(context.Background(), "d-1", storage.File{Name: "proof.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.HasPrefix(gotPath, "/evidence/deliveries/d-1/") || !strings.HasSuffix(gotPath, ".jpg") {
		t.Fatalf("unexpected object path %s", gotPath)
	}
	if gotType != "image/jpeg" || !strings.Contains(string(gotBody), "jpeg") {
		t.Fatalf("unexpected upload type=%s body=%q", gotType, gotBody)
	}
	if url != srv.URL+gotPath {
		t.Fatalf("url %s does not address %s", url, gotPath)
	}
}

func TestS3URLWithoutEndpoint(t *testing.T) {
	up, err := storage.NewS3(context.Background(), storage.S3Config{Bucket: "b", Region: "eu-west-1", AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if got := up.URL("x/y.png"); got != "https://b.s3.eu-west-1.amazonaws.com/x/y.png" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestUnavailable(t *testing.T) {
	_, err := storage.Unavailable{}.Upload(context.Background(), "d", storage.File{})
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}
