package fileio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDetectScheme(t *testing.T) {
	tests := []struct {
		path string
		want urlScheme
	}{
		{"s3://bucket/key", schemeS3},
		{"S3://bucket/key", schemeS3},
		{"mem://warehouse/t", schemeMem},
		{"https://example.com/m.json", schemeHTTPS},
		{"http://example.com/m.json", schemeHTTP},
		{"file:///tmp/m.json", schemeFile},
		{"/tmp/m.json", schemeLocal},
		{"relative/m.json", schemeLocal},
	}

	for _, tt := range tests {
		if got := detectScheme(tt.path); got != tt.want {
			t.Errorf("detectScheme(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://bucket/a/b/c.json")
	if err != nil {
		t.Fatalf("parseS3URL failed: %v", err)
	}
	if bucket != "bucket" || key != "a/b/c.json" {
		t.Errorf("Got bucket=%q key=%q", bucket, key)
	}

	for _, bad := range []string{"s3://bucket", "s3://bucket/", "s3:///key"} {
		if _, _, err := parseS3URL(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func testWriteOnce(t *testing.T, io IO, location string) {
	t.Helper()
	ctx := context.Background()

	if _, err := io.Read(ctx, location); !errors.Is(err, ErrNotExist) {
		t.Fatalf("Expected ErrNotExist before write, got %v", err)
	}

	if err := io.WriteOnce(ctx, location, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("WriteOnce failed: %v", err)
	}

	if err := io.WriteOnce(ctx, location, []byte(`{"v":2}`)); !errors.Is(err, ErrExists) {
		t.Fatalf("Expected ErrExists on second write, got %v", err)
	}

	data, err := io.Read(ctx, location)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if diff := cmp.Diff(`{"v":1}`, string(data)); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestMemWriteOnce(t *testing.T) {
	testWriteOnce(t, New(Config{}), "mem://warehouse/db/t/metadata/00000-a.metadata.json")
}

func TestLocalWriteOnce(t *testing.T) {
	dir := t.TempDir()
	testWriteOnce(t, New(Config{}), filepath.Join(dir, "db", "t", "metadata", "00000-a.metadata.json"))
}

func TestLocalWriteOnceConcurrent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	location := filepath.Join(dir, "metadata", "00001-c.metadata.json")
	io := New(Config{})

	const writers = 16
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = io.WriteOnce(ctx, location, []byte{byte('a' + i)})
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range results {
		switch {
		case err == nil && winner >= 0:
			t.Fatalf("Writers %d and %d both succeeded", winner, i)
		case err == nil:
			winner = i
		case !errors.Is(err, ErrExists):
			t.Errorf("Writer %d: expected ErrExists, got %v", i, err)
		}
	}
	if winner < 0 {
		t.Fatal("Expected one writer to succeed")
	}

	data, err := io.Read(ctx, location)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if diff := cmp.Diff([]byte{byte('a' + winner)}, data); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(location))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected staging files to be cleaned up, got %d entries", len(entries))
	}
}

func TestFileURLWriteOnce(t *testing.T) {
	dir := t.TempDir()
	testWriteOnce(t, New(Config{}), "file://"+filepath.Join(dir, "metadata", "00001-b.metadata.json"))
}

func TestMemStoresAreIndependent(t *testing.T) {
	ctx := context.Background()
	a, b := New(Config{}), New(Config{})

	if err := a.WriteOnce(ctx, "mem://x/y.json", []byte("a")); err != nil {
		t.Fatalf("WriteOnce failed: %v", err)
	}
	if _, err := b.Read(ctx, "mem://x/y.json"); !errors.Is(err, ErrNotExist) {
		t.Errorf("Expected separate routers not to share memory, got %v", err)
	}
}

func TestHTTPReadOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/m.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"format-version":2}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	router := New(Config{})

	data, err := router.Read(ctx, srv.URL+"/m.json")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != `{"format-version":2}` {
		t.Errorf("Unexpected body %q", data)
	}

	if _, err := router.Read(ctx, srv.URL+"/missing.json"); !errors.Is(err, ErrNotExist) {
		t.Errorf("Expected ErrNotExist for 404, got %v", err)
	}

	if err := router.WriteOnce(ctx, srv.URL+"/m.json", nil); err == nil {
		t.Error("Expected HTTP writes to be rejected")
	}
}

func TestProperties(t *testing.T) {
	router := New(Config{S3: S3Config{Endpoint: "http://localhost:9000", Region: "us-east-1"}})

	want := map[string]string{
		"s3.endpoint":          "http://localhost:9000",
		"s3.path-style-access": "true",
		"s3.region":            "us-east-1",
	}
	if diff := cmp.Diff(want, router.Properties()); diff != "" {
		t.Errorf("Properties mismatch (-want +got):\n%s", diff)
	}

	if got := New(Config{}).Properties(); len(got) != 0 {
		t.Errorf("Expected no properties without S3 settings, got %v", got)
	}
}
