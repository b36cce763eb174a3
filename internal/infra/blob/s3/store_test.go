package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"workassign/internal/blob/core"
)

func newPagedStore(t *testing.T, pageSize int) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{
		Bucket:          "reports",
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: NewMockTransport(pageSize)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if store.Driver() != core.DriverS3 || store.Bucket() != "mock-bucket" {
		t.Fatalf("unexpected store %s %s", store.Driver(), store.Bucket())
	}
	info, err := store.Put(ctx, "exports/r.csv", strings.NewReader("Name,11 Jan\n"), core.PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "exports/r.csv" || info.ContentType != "text/csv" || info.ETag != "mock-etag" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "exports/r.csv", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "exports/r.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "Name,11 Jan\n" {
		t.Fatalf("unexpected body %q", body)
	}
	link, err := store.PresignURL(ctx, "exports/r.csv", core.SignedURLOptions{Expiry: time.Minute})
	if err != nil || !strings.Contains(link, "exports/r.csv") {
		t.Fatalf("presign: %v %s", err, link)
	}
	if ok, err := store.Delete(ctx, "exports/r.csv"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "exports/r.csv"); err != nil || ok {
		t.Fatalf("second delete should report false: %v %v", ok, err)
	}
}

func TestStoreMissingKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := store.PresignURL(ctx, "nope", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
	if _, err := store.Put(ctx, "", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	store := newPagedStore(t, 2)
	for i := range 5 {
		if _, err := store.Put(ctx, fmt.Sprintf("exports/%d.json", i), strings.NewReader("{}"), core.PutOptions{}); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if _, err := store.Put(ctx, "other/x.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "exports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 || list[0].Key != "exports/0.json" || list[4].Key != "exports/4.json" {
		t.Fatalf("unexpected listing %+v", list)
	}
	if empty, err := store.List(ctx, "missing/"); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty listing: %v %+v", err, empty)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	if _, ok := decodeAWSChunked([]byte("plain body")); ok {
		t.Fatalf("plain body must not decode")
	}
	if _, ok := decodeAWSChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("short chunk must not decode")
	}
	got, ok := decodeAWSChunked([]byte("5;chunk-signature=abc\r\nhello\r\n0\r\n\r\n"))
	if !ok || string(got) != "hello" {
		t.Fatalf("expected hello, got %q %v", got, ok)
	}
}

func TestMockTransportUnsupportedMethod(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, err := NewMockTransport(0).RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %v %v", resp, err)
	}
}
