package extract

import (
	"log/slog"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// OCRClient wraps tesseract. Client construction is deferred and
// probed once so a host without tesseract degrades to direct
// extraction instead of failing.
type OCRClient struct {
	logger *slog.Logger

	once      sync.Once
	available bool

	mu sync.Mutex
}

func NewOCRClient(logger *slog.Logger) *OCRClient {
	return &OCRClient{logger: logger}
}

func (c *OCRClient) Available() bool {
	c.once.Do(func() {
		client := gosseract.NewClient()
		defer client.Close()
		if _, err := client.GetAvailableLanguages(); err != nil {
			c.logger.Warn("tesseract unavailable, OCR fallback disabled", "error", err)
			return
		}
		c.available = true
	})
	return c.available
}

// ImageToText OCRs one image payload. tesseract clients are not
// goroutine safe, hence the lock around each run.
func (c *OCRClient) ImageToText(image []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(image); err != nil {
		return "", err
	}
	return client.Text()
}
