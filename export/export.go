// Package export packages generation results for download: batch results as
// ZIP archives with a metadata manifest, conversation logs as JSON files, and
// a local-directory Storage backend.
package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mhpenta/imagebatch"
	"github.com/mhpenta/imagebatch/batch"
)

// ErrNoImages is returned when a batch result holds no successful images.
var ErrNoImages = errors.New("batch result has no images")

const timestampLayout = "20060102_150405"

// manifest is the metadata.json written into every batch archive.
type manifest struct {
	GeneratedAt string          `json:"generated_at"`
	TotalImages int             `json:"total_images"`
	Images      []manifestEntry `json:"images"`
}

type manifestEntry struct {
	Filename    string `json:"filename"`
	Description string `json:"description"`
	Index       int    `json:"index"`
}

// WriteBatchZip writes the successful images of a batch result to w as a ZIP
// archive: <baseName>_001.png, <baseName>_002.png, ... plus metadata.json.
func WriteBatchZip(w io.Writer, result *batch.Result, baseName string) error {
	if result == nil || result.SuccessCount() == 0 {
		return ErrNoImages
	}
	if baseName == "" {
		baseName = "batch_images_" + time.Now().Format(timestampLayout)
	}

	zw := zip.NewWriter(w)

	meta := manifest{
		GeneratedAt: time.Now().Format(timestampLayout),
		TotalImages: result.SuccessCount(),
	}

	for i, s := range result.Successes {
		name := fmt.Sprintf("%s_%03d.%s", baseName, i+1, extensionFromMIME(s.MIMEType))
		f, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("creating %s in archive: %w", name, err)
		}
		if _, err := f.Write(s.Image); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		meta.Images = append(meta.Images, manifestEntry{
			Filename:    name,
			Description: s.Text,
			Index:       i + 1,
		})
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	f, err := zw.Create("metadata.json")
	if err != nil {
		return fmt.Errorf("creating metadata.json: %w", err)
	}
	if _, err := f.Write(metaJSON); err != nil {
		return fmt.Errorf("writing metadata.json: %w", err)
	}

	return zw.Close()
}

// CreateBatchZip writes a batch archive into dir and returns its path.
func CreateBatchZip(dir string, result *batch.Result, baseName string) (string, error) {
	if baseName == "" {
		baseName = "batch_images_" + time.Now().Format(timestampLayout)
	}
	path := filepath.Join(dir, baseName+".zip")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}

	if err := WriteBatchZip(f, result, baseName); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// SaveConversation writes a conversation log export into dir and returns the
// file path. An empty filename gets a timestamped default.
func SaveConversation(dir string, log *imagebatch.ConversationLog, filename string) (string, error) {
	data, err := log.ExportJSON()
	if err != nil {
		return "", err
	}

	if filename == "" {
		filename = "conversation_" + time.Now().Format(timestampLayout) + ".json"
	}
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing conversation: %w", err)
	}
	return path, nil
}

// LoadConversation replaces log's contents with an earlier export.
func LoadConversation(path string, log *imagebatch.ConversationLog) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading conversation: %w", err)
	}
	return log.ImportJSON(data)
}

// DirStorage persists files under a local directory, implementing the
// imagebatch Storage interface. The returned URL is the absolute file path.
type DirStorage struct {
	Root string
}

var _ imagebatch.Storage = DirStorage{}

// SaveFile writes data to Root/path, creating parent directories as needed.
func (s DirStorage) SaveFile(ctx context.Context, data []byte, path string, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full := filepath.Join(s.Root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}

	abs, err := filepath.Abs(full)
	if err != nil {
		return full, nil
	}
	return abs, nil
}

// extensionFromMIME returns a file extension for common image MIME types.
func extensionFromMIME(mime string) string {
	switch mime {
	case "image/png", "":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
