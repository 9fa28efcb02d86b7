package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyerfyer/paragraph-migrate/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, cfg Config) (*ImageFetcher, storage.Storage) {
	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC) }
	f, err := NewImageFetcher(cfg, store, WithClock(clock))
	require.NoError(t, err)
	return f, store
}

func TestImageFetcher_Fetch(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/images/cat.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg-bytes"))
		case "/render":
			w.Header().Set("Content-Type", "image/png; charset=binary")
			_, _ = w.Write([]byte("png-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f, store := newTestFetcher(t, Config{BaseURL: server.URL, UserAgent: "test-agent"})

	t.Run("relative src resolves against base URL", func(t *testing.T) {
		res, err := f.Fetch(context.Background(), "/images/cat.jpg")
		require.NoError(t, err)
		assert.Equal(t, server.URL+"/images/cat.jpg", res.SourceURL)
		assert.Equal(t, "2024-05/cat.jpg", res.File.Path)
		assert.Equal(t, "public://2024-05/cat.jpg", res.File.URI())
		assert.Equal(t, "image/jpeg", res.File.MimeType)
		assert.Equal(t, int64(len("jpeg-bytes")), res.File.Size)
		assert.Equal(t, "test-agent", gotUA)

		reader, err := store.Get(res.File.Path)
		require.NoError(t, err)
		defer reader.Close()
		data, _ := io.ReadAll(reader)
		assert.Equal(t, "jpeg-bytes", string(data))
	})

	t.Run("same name is renamed", func(t *testing.T) {
		res, err := f.Fetch(context.Background(), server.URL+"/images/cat.jpg")
		require.NoError(t, err)
		assert.Equal(t, "2024-05/cat_0.jpg", res.File.Path)
	})

	t.Run("extension from content type", func(t *testing.T) {
		res, err := f.Fetch(context.Background(), "/render?id=1")
		require.NoError(t, err)
		assert.Equal(t, "2024-05/render.png", res.File.Path)
		assert.Equal(t, "image/png", res.File.MimeType)
	})

	t.Run("non 2xx is rejected", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), "/missing.png")
		assert.True(t, errors.Is(err, ErrUnexpectedStatus))
	})
}

func TestImageFetcher_MaxBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 不设置Content-Length，强制走读取上限判断
		w.Header().Set("Content-Type", "image/png")
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write([]byte(strings.Repeat("x", 8)))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	f, store := newTestFetcher(t, Config{MaxBytes: 16})

	_, err := f.Fetch(context.Background(), server.URL+"/big.png")
	assert.True(t, errors.Is(err, ErrTooLarge))

	files, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, files, "oversized images must not be stored")
}

func TestImageFetcher_Resolve(t *testing.T) {
	f, _ := newTestFetcher(t, Config{BaseURL: "https://example.com/blog/post"})

	tests := []struct {
		src     string
		want    string
		wantErr bool
	}{
		{"https://cdn.example.org/a.png", "https://cdn.example.org/a.png", false},
		{"/sites/default/files/a.png", "https://example.com/sites/default/files/a.png", false},
		{"a.png", "https://example.com/blog/a.png", false},
		{"//cdn.example.org/b.png#frag", "https://cdn.example.org/b.png", false},
		{"", "", true},
		{"   ", "", true},
		{"data:image/png;base64,AAAA", "", true},
		{"ftp://example.com/a.png", "", true},
		{"javascript:alert(1)", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := f.Resolve(tt.src)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidSource), "src %q should be invalid, got %v", tt.src, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	noBase, _ := newTestFetcher(t, Config{})
	_, err := noBase.Resolve("/relative.png")
	assert.True(t, errors.Is(err, ErrInvalidSource))
}

func TestNewImageFetcher(t *testing.T) {
	_, err := NewImageFetcher(Config{}, nil)
	assert.Error(t, err)

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	_, err = NewImageFetcher(Config{BaseURL: "not a url"}, store)
	assert.Error(t, err)

	f, err := NewImageFetcher(Config{}, store)
	require.NoError(t, err)
	assert.Equal(t, defaultUserAgent, f.userAgent)
	assert.Equal(t, int64(defaultMaxBytes), f.maxBytes)
}
