package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultURL is where the Gemma 3 270M instruct weights are published.
const DefaultURL = "https://huggingface.co/ggml-org/gemma-3-270m-it-GGUF/resolve/main/gemma-3-270m-it-Q8_0.gguf"

// DownloadProgress is called periodically during a download.
type DownloadProgress func(downloaded, total int64)

// Download fetches a GGUF file to destPath. Bytes land in destPath+".partial"
// first and an interrupted download resumes from there with a Range request.
// HF_TOKEN, when set, is sent as a bearer token for gated repos.
func Download(ctx context.Context, url, destPath string, progress DownloadProgress) error {
	if !strings.HasSuffix(strings.ToLower(url), ".gguf") {
		return fmt.Errorf("URL does not point to a .gguf file: %s", url)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	partialPath := destPath + ".partial"
	var startByte int64
	if info, err := os.Stat(partialPath); err == nil {
		startByte = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// Range ignored: start over.
		startByte = 0
	case http.StatusRequestedRangeNotSatisfiable:
		if startByte > 0 {
			return finish(partialPath, destPath)
		}
		fallthrough
	default:
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	totalSize := int64(-1)
	if resp.ContentLength >= 0 {
		totalSize = resp.ContentLength + startByte
	}

	flags := os.O_CREATE | os.O_WRONLY
	if startByte > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	downloaded := startByte
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write file: %w", writeErr)
			}
			downloaded += int64(n)
			if progress != nil {
				progress(downloaded, totalSize)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return finish(partialPath, destPath)
}

func finish(partialPath, destPath string) error {
	if err := os.Rename(partialPath, destPath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}
