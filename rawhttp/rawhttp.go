// Package rawhttp converts responses to and from the raw wire form stored in the cache.
package rawhttp

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/beevik/etree"
	"github.com/gabriel-vasile/mimetype"
	"github.com/yosssi/gohtml"
)

var (
	// ErrMalformed is returned when a raw message has no header / body separator
	ErrMalformed = errors.New("malformed raw message")
	// ErrUnsupportedEncoding is returned when the Content-Encoding cannot be decoded
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
)

// Prettify will attempt to prettify the body, JSON, XML and HTML are supported.
// It returns an empty byte slice if the body is none of those
func Prettify(bodyBytes []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(bodyBytes)
	if len(trimmed) == 0 {
		return []byte{}, nil
	}

	if out, ok, err := prettyJSON(trimmed); ok {
		return out, err
	}
	if out, ok, err := prettyXML(trimmed); ok {
		return out, err
	}
	if out, ok := prettyHTML(trimmed); ok {
		return out, nil
	}
	return []byte{}, nil
}

func prettyJSON(body []byte) ([]byte, bool, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false, nil
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return []byte{}, true, fmt.Errorf("remarshalling JSON : %w", err)
	}
	return out, true, nil
}

func prettyXML(body []byte) ([]byte, bool, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil {
		return nil, false, nil
	}
	doc.Indent(1)
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return []byte{}, true, fmt.Errorf("writing indented XML : %w", err)
	}
	return out.Bytes(), true, nil
}

func prettyHTML(body []byte) ([]byte, bool) {
	looksLikeMarkup := bytes.HasPrefix(body, []byte("<")) && !bytes.HasPrefix(body, []byte("<?xml"))
	if !strings.Contains(mimetype.Detect(body).String(), "text/html") && !looksLikeMarkup {
		return nil, false
	}
	out := gohtml.FormatBytes(body)
	if len(out) == 0 || bytes.Equal(out, body) {
		return nil, false
	}
	return out, true
}

// DetectContentType returns the Content-Type header of the response or, when it is missing, the type sniffed from the body
func DetectContentType(header http.Header, body []byte) string {
	if ct := header.Get("Content-Type"); ct != "" {
		return ct
	}
	return mimetype.Detect(body).String()
}

// Decompress replaces a gzip, deflate or br encoded body with the decoded bytes and drops the Content-Encoding header
func Decompress(res *http.Response) error {
	encoding := strings.ToLower(strings.TrimSpace(res.Header.Get("Content-Encoding")))
	if encoding == "" || encoding == "identity" || res.Body == nil {
		return nil
	}

	var reader io.Reader
	switch encoding {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(res.Body)
		if err != nil {
			return fmt.Errorf("opening gzip reader : %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(res.Body)
		defer fl.Close()
		reader = fl
	case "br":
		reader = brotli.NewReader(res.Body)
	default:
		return fmt.Errorf("%w : %s", ErrUnsupportedEncoding, encoding)
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("decoding %s body : %w", encoding, err)
	}
	res.Body.Close()

	res.Body = io.NopCloser(bytes.NewReader(decoded))
	res.Header.Del("Content-Encoding")
	res.Header.Set("Content-Length", strconv.Itoa(len(decoded)))
	res.ContentLength = int64(len(decoded))
	res.Uncompressed = true
	return nil
}

// DumpResponse dumps the raw response with an identity body and resets the body so it can be consumed again.
// Chunked transfer encoding is removed so the dump can be read back with RebuildResponse
func DumpResponse(res *http.Response) ([]byte, error) {
	var bodyBytes []byte
	if res.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(res.Body)
		if err != nil {
			return []byte{}, fmt.Errorf("reading response body : %w", err)
		}
		res.Body.Close()
		res.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	res.TransferEncoding = nil
	res.ContentLength = int64(len(bodyBytes))

	head, err := httputil.DumpResponse(res, false)
	if err != nil {
		return []byte{}, fmt.Errorf("dumping response : %w", err)
	}

	raw := make([]byte, 0, len(head)+len(bodyBytes))
	raw = append(raw, head...)
	raw = append(raw, bodyBytes...)
	return raw, nil
}

// PrettyDump returns the raw message with a prettified body, or an empty string if the body cannot be prettified
func PrettyDump(raw []byte) (string, error) {
	head, body, err := Split(raw)
	if err != nil {
		return "", err
	}
	pretty, err := Prettify(body)
	if err != nil || len(pretty) == 0 {
		return "", err
	}
	return string(head) + "\n\n" + string(pretty), nil
}

// Split separates a raw message into its header block and body.
// Line endings are normalized to \n in the header block only, the body is returned byte for byte
func Split(raw []byte) (head []byte, body []byte, err error) {
	end, sepLen := headerEnd(raw)
	if end < 0 {
		return nil, nil, fmt.Errorf("%w : %q", ErrMalformed, raw)
	}
	head = bytes.ReplaceAll(raw[:end], []byte("\r\n"), []byte("\n"))
	return bytes.TrimSuffix(head, []byte("\r")), raw[end+sepLen:], nil
}

// headerEnd returns the offset of the first blank line and the length of its separator, -1 when there is none
func headerEnd(raw []byte) (int, int) {
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf < 0:
		return lf, 2
	case lf < 0 || crlf < lf:
		return crlf, 4
	}
	return lf, 2
}

// RecalculateContentLength takes a raw request / response and updates the content-length to match the body length
func RecalculateContentLength(raw []byte) ([]byte, error) {
	head, body, err := Split(raw)
	if err != nil {
		return []byte{}, err
	}

	lines := bytes.Split(head, []byte("\n"))
	headers := make([][]byte, 0, len(lines)+1)
	for _, line := range lines {
		if !bytes.HasPrefix(bytes.ToLower(line), []byte("content-length:")) {
			headers = append(headers, line)
		}
	}
	if len(body) > 0 {
		headers = append(headers, fmt.Appendf(nil, "Content-Length: %d", len(body)))
	}

	updated := bytes.Join(headers, []byte("\r\n"))
	updated = append(updated, []byte("\r\n\r\n")...)
	return append(updated, body...), nil
}

// RebuildResponse creates a new *http.Response from a raw response slice
func RebuildResponse(raw []byte, req *http.Request) (*http.Response, error) {
	updated, err := RecalculateContentLength(raw)
	if err != nil {
		return nil, fmt.Errorf("recalculating content length : %w", err)
	}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(updated)), req)
	if err != nil {
		return nil, fmt.Errorf("reading raw response : %w", err)
	}
	return res, nil
}
