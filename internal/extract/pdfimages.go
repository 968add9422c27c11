package extract

import (
	"bytes"
	"regexp"
	"strconv"
)

// PDFs store scanned pages as image XObjects. JPEG-encoded streams
// (/DCTDecode) can be handed to tesseract as-is; other encodings would
// need deflate plus raster reassembly and are skipped.

var streamStart = regexp.MustCompile(`stream\r?\n`)
var lengthRe = regexp.MustCompile(`/Length\s+(\d+)`)

// pdfImageStreams returns the raw JPEG payloads embedded in the
// document, in file order.
func pdfImageStreams(data []byte) [][]byte {
	var out [][]byte

	offset := 0
	for {
		dictStart := bytes.Index(data[offset:], []byte("<<"))
		if dictStart < 0 {
			break
		}
		dictStart += offset

		dictEnd := bytes.Index(data[dictStart:], []byte(">>"))
		if dictEnd < 0 {
			break
		}
		dictEnd += dictStart + 2
		dict := data[dictStart:dictEnd]
		offset = dictEnd

		if !bytes.Contains(dict, []byte("/Image")) || !bytes.Contains(dict, []byte("/DCTDecode")) {
			continue
		}

		loc := streamStart.FindIndex(data[dictEnd:])
		if loc == nil || loc[0] > 16 {
			// The stream keyword must follow the dict immediately.
			continue
		}
		payloadStart := dictEnd + loc[1]

		payloadEnd := -1
		if m := lengthRe.FindSubmatch(dict); m != nil {
			if n, err := strconv.Atoi(string(m[1])); err == nil && payloadStart+n <= len(data) {
				payloadEnd = payloadStart + n
			}
		}
		if payloadEnd < 0 {
			rel := bytes.Index(data[payloadStart:], []byte("endstream"))
			if rel < 0 {
				continue
			}
			payloadEnd = payloadStart + rel
		}

		payload := bytes.TrimRight(data[payloadStart:payloadEnd], "\r\n")
		if len(payload) > 0 {
			out = append(out, payload)
		}
		offset = payloadEnd
	}
	return out
}
