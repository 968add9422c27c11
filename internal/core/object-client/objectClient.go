package objectclient

import (
	"path"
	"strings"
)

// sidecarExts are the derived-artifact extensions written next to a
// source object during transcription (extracted audio, segment json,
// plain text dump).
var sidecarExts = []string{".mp3", ".json", ".txt"}

// relatedKeys returns the sidecar keys sharing the object's stem.
// The object's own extension is excluded.
func relatedKeys(key string) []string {
	ext := path.Ext(key)
	stem := strings.TrimSuffix(key, ext)

	var out []string
	for _, se := range sidecarExts {
		if se == ext {
			continue
		}
		out = append(out, stem+se)
	}
	return out
}
