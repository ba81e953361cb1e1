package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/net/html/charset"
)

// maxBodySize caps how much of a response body is buffered, before and after
// decompression.
var maxBodySize int64 = 32 << 20

// ErrBodyTooLarge is returned when a response body exceeds maxBodySize.
var ErrBodyTooLarge = errors.New("response body too large")

// readBody reads the response body, undoes Content-Encoding and transcodes
// text to UTF-8 according to the declared or sniffed charset.
func readBody(resp *http.Response) ([]byte, error) {
	raw, err := readLimited(resp.Body)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeContent(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, err
	}
	return decodeCharset(resp.Header.Get("Content-Type"), decoded)
}

// readLimited reads at most maxBodySize bytes and fails instead of
// truncating when more are available.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBodySize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, maxBodySize)
	}
	return data, nil
}

// decodeCharset converts text bodies to UTF-8. A charset parameter on the
// Content-Type wins; HTML without one is sniffed (BOM, then <meta>).
// Other bodies without a declared charset are returned untouched.
func decodeCharset(contentType string, body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	mediaType, params, _ := mime.ParseMediaType(contentType)
	label := strings.TrimSpace(params["charset"])

	isHTML := mediaType == "text/html" || mediaType == "application/xhtml+xml"
	if label == "" && !isHTML {
		return body, nil
	}

	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if label != "" {
		if labelled, canonical := charset.Lookup(label); labelled != nil {
			enc, name = labelled, canonical
		}
	}
	if enc == nil || name == "utf-8" {
		return body, nil
	}

	utf8Body, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("charset %s: %w", name, err)
	}
	return utf8Body, nil
}

func decodeContent(encoding string, raw []byte) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" || encoding == "identity" || len(raw) == 0 {
		return raw, nil
	}

	var reader io.Reader
	switch encoding {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close() // nolint:errcheck // reader over an in-memory buffer
		reader = gz
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close() // nolint:errcheck // reader over an in-memory buffer
			reader = fr
		} else {
			defer zr.Close() // nolint:errcheck // reader over an in-memory buffer
			reader = zr
		}
	case "br":
		reader = brotli.NewReader(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	decoded, err := readLimited(reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", encoding, err)
	}
	return decoded, nil
}
