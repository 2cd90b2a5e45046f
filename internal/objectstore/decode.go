package objectstore

import (
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

type gzipBody struct {
	*gzip.Reader
	raw io.ReadCloser
}

func (g gzipBody) Close() error {
	gerr := g.Reader.Close()
	if err := g.raw.Close(); err != nil {
		return err
	}
	return gerr
}

func isGzip(key, contentEncoding string) bool {
	if strings.EqualFold(strings.TrimSpace(contentEncoding), "gzip") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(key), ".gz")
}

func decodeBody(key, contentEncoding string, body io.ReadCloser) (io.ReadCloser, error) {
	if !isGzip(key, contentEncoding) {
		return body, nil
	}
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	return gzipBody{Reader: zr, raw: body}, nil
}
