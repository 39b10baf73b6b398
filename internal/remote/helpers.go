package remote

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"
)

func newBodyReader(body []byte) *bytes.Reader {
	return bytes.NewReader(body)
}

func newBodyReaderString(body string) *strings.Reader {
	return strings.NewReader(body)
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}

func parseUpdated(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
