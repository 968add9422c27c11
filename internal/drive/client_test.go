package drive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSupported(t *testing.T) {
	assert.True(t, isSupported("application/pdf"))
	assert.True(t, isSupported("application/vnd.google-apps.document"))
	assert.True(t, isSupported("audio/mpeg"))
	assert.True(t, isSupported("video/mp4"))
	assert.False(t, isSupported("application/zip"))
	assert.False(t, isSupported("image/png"))
}

func TestExportFormats(t *testing.T) {
	ef, ok := exportFormats["application/vnd.google-apps.spreadsheet"]
	assert.True(t, ok)
	assert.Equal(t, "text/csv", ef.mimeType)
	assert.Equal(t, ".csv", ef.ext)

	_, ok = exportFormats["application/pdf"]
	assert.False(t, ok, "regular files must download, not export")
}
