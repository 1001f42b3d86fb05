// Package local persists fetched pages and their metadata to the local
// filesystem, grounded on internal/storage/local/blob_store.go's
// path-traversal-safe write pattern.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepharvest/deepharvest/internal/crawlcore"
	"github.com/deepharvest/deepharvest/internal/hash/sha256"
)

// Config controls the local page writer.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// pageMeta is the JSON sidecar written alongside each fetched body.
type pageMeta struct {
	URL        string            `json:"url"`
	FinalURL   string            `json:"final_url"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	MIMEType   string            `json:"mime_type"`
	Mode       crawlcore.FetchMode `json:"mode"`
	FetchedAt  time.Time         `json:"fetched_at"`
	DurationMs int64             `json:"duration_ms"`
	Depth      int               `json:"depth"`
	ParentURL  string            `json:"parent_url,omitempty"`
}

// PageWriter implements worker.PageWriter by writing each fetched body plus
// a JSON metadata sidecar under BaseDir, keyed by the SHA-256 of the fetched
// URL to keep filenames both stable and filesystem-safe.
type PageWriter struct {
	baseDir string
	hasher  *sha256.Hasher
}

// New validates and creates BaseDir, returning a ready PageWriter.
func New(cfg Config) (*PageWriter, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &PageWriter{baseDir: cfg.BaseDir, hasher: sha256.New()}, nil
}

// WritePage writes the fetched body and a metadata sidecar for rec/result.
func (w *PageWriter) WritePage(_ context.Context, rec crawlcore.URLRecord, result crawlcore.FetchResult) error {
	key, err := w.hasher.Hash([]byte(rec.URL))
	if err != nil {
		return fmt.Errorf("hash url: %w", err)
	}
	bodyPath, err := w.safeJoin(key + ".body")
	if err != nil {
		return err
	}
	metaPath, err := w.safeJoin(key + ".json")
	if err != nil {
		return err
	}

	if err := os.WriteFile(bodyPath, result.Body, 0o600); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	headers := make(map[string]string, len(result.Headers))
	for k, v := range result.Headers {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	meta := pageMeta{
		URL:        rec.URL,
		FinalURL:   result.FinalURL,
		StatusCode: result.StatusCode,
		Headers:    headers,
		MIMEType:   result.MIMEType,
		Mode:       result.Mode,
		FetchedAt:  time.Now(),
		DurationMs: result.Duration.Milliseconds(),
		Depth:      rec.Depth,
		ParentURL:  rec.ParentURL,
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, encoded, 0o600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (w *PageWriter) safeJoin(name string) (string, error) {
	cleanBase := filepath.Clean(w.baseDir)
	full := filepath.Join(cleanBase, name)
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected for %q", name)
	}
	return full, nil
}
