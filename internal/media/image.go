// Package media reads and validates the images the relay forwards to the model.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/memohai/guardrelay/internal/chat"
)

// MaxImageBytes is the largest image accepted inline by the generation API.
const MaxImageBytes int64 = 20 << 20

var (
	ErrTooLarge    = errors.New("image too large")
	ErrUnsupported = errors.New("unsupported image type")
)

var imageTypes = []string{"image/png", "image/jpeg", "image/webp", "image/heic", "image/heif"}

// NormalizeMime lower-cases raw and strips parameters such as "; charset=".
func NormalizeMime(raw string) string {
	mime, _, _ := strings.Cut(raw, ";")
	return strings.ToLower(strings.TrimSpace(mime))
}

// DetectImage sniffs data. The declared type only counts when sniffing finds nothing.
func DetectImage(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUnsupported)
	}
	sniffed := mimetype.Detect(data)
	for _, t := range imageTypes {
		if sniffed.Is(t) {
			return t, nil
		}
	}
	if sniffed.Is("application/octet-stream") {
		if d := NormalizeMime(declared); slices.Contains(imageTypes, d) {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, sniffed.String())
}

// ReadImage reads at most limit bytes from r and returns them as an inline image.
// A non-positive limit means MaxImageBytes.
func ReadImage(r io.Reader, declared string, limit int64) (*chat.Image, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no reader", ErrUnsupported)
	}
	if limit <= 0 {
		limit = MaxImageBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	mime, err := DetectImage(data, declared)
	if err != nil {
		return nil, err
	}
	return chat.NewImage(mime, data), nil
}

// Download GETs url and returns the body with its declared content type. Responses that
// announce more than limit bytes are refused before reading.
func Download(ctx context.Context, client *http.Client, url string, limit int64) (io.ReadCloser, string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if limit <= 0 {
		limit = MaxImageBytes
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	switch {
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	case resp.ContentLength > limit:
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("%w: %d bytes announced", ErrTooLarge, resp.ContentLength)
	}
	return resp.Body, NormalizeMime(resp.Header.Get("Content-Type")), nil
}
