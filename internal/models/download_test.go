package models

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "GGUF-fake-weights-0123456789"

var testModTime = time.Unix(1700000000, 0)

func ggufServer(t *testing.T, gotRange *string, gotAuth *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotRange != nil {
			*gotRange = r.Header.Get("Range")
		}
		if gotAuth != nil {
			*gotAuth = r.Header.Get("Authorization")
		}
		http.ServeContent(w, r, "model.gguf", testModTime, strings.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	t.Setenv("HF_TOKEN", "")
	srv := ggufServer(t, nil, nil)
	dest := filepath.Join(t.TempDir(), "Model", "gemma.gguf")

	var last, total int64
	err := Download(context.Background(), srv.URL+"/model.gguf", dest, func(d, tot int64) {
		last, total = d, tot
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, int64(len(payload)), last)
	assert.Equal(t, int64(len(payload)), total)
	assert.NoFileExists(t, dest+".partial")
}

func TestDownloadResumes(t *testing.T) {
	t.Setenv("HF_TOKEN", "")
	var gotRange string
	srv := ggufServer(t, &gotRange, nil)
	dest := filepath.Join(t.TempDir(), "gemma.gguf")
	require.NoError(t, os.WriteFile(dest+".partial", []byte(payload[:10]), 0o644))

	require.NoError(t, Download(context.Background(), srv.URL+"/model.gguf", dest, nil))

	assert.Equal(t, "bytes=10-", gotRange)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestDownloadAlreadyComplete(t *testing.T) {
	t.Setenv("HF_TOKEN", "")
	srv := ggufServer(t, nil, nil)
	dest := filepath.Join(t.TempDir(), "gemma.gguf")
	require.NoError(t, os.WriteFile(dest+".partial", []byte(payload), 0o644))

	require.NoError(t, Download(context.Background(), srv.URL+"/model.gguf", dest, nil))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestDownloadSendsToken(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_abc")
	var gotAuth string
	srv := ggufServer(t, nil, &gotAuth)

	require.NoError(t, Download(context.Background(), srv.URL+"/model.gguf", filepath.Join(t.TempDir(), "m.gguf"), nil))
	assert.Equal(t, "Bearer hf_abc", gotAuth)
}

func TestDownloadRejectsNonGGUF(t *testing.T) {
	err := Download(context.Background(), "https://example.com/model.bin", filepath.Join(t.TempDir(), "m.gguf"), nil)
	assert.ErrorContains(t, err, "does not point to a .gguf")
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gated", http.StatusUnauthorized)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "m.gguf")
	err := Download(context.Background(), srv.URL+"/model.gguf", dest, nil)
	assert.ErrorContains(t, err, fmt.Sprint(http.StatusUnauthorized))
	assert.NoFileExists(t, dest)
}
