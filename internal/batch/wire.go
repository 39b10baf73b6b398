// Package batch implements the multipart/mixed batch wire codec and the
// AIMD-paced, bounded-concurrency sub-batch executor, per spec.md §4.4.
package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

// encodeMultipart writes ops as a multipart/mixed request body, one
// "application/http" part per op, terminated by "--boundary--".
func encodeMultipart(boundary string, ops []model.BatchOp) ([]byte, error) {
	var buf bytes.Buffer
	for i, op := range ops {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: application/http\r\n")
		fmt.Fprintf(&buf, "Content-ID: item-%d\r\n\r\n", i)
		fmt.Fprintf(&buf, "%s %s\r\n", op.Method, op.Path)
		if op.Body != nil {
			payload, err := json.Marshal(op.Body)
			if err != nil {
				return nil, fmt.Errorf("batch: encoding op %d body: %w", i, err)
			}
			fmt.Fprintf(&buf, "Content-Type: application/json\r\n\r\n")
			buf.Write(payload)
			buf.WriteString("\r\n")
		} else {
			buf.WriteString("\r\n")
		}
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

var statusLineRe = "HTTP/"

// decodeMultipart splits a multipart/mixed response body by boundary and
// parses each part's inner HTTP response, per spec.md §4.4's response
// parsing rule. The returned slice is in part order.
func decodeMultipart(boundary string, body []byte) ([]model.BatchResult, error) {
	delim := "--" + boundary
	raw := string(body)
	segments := strings.Split(raw, delim)

	var results []model.BatchResult
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "--" {
			continue
		}
		res, ok, err := parsePart(seg)
		if err != nil {
			return nil, fmt.Errorf("batch: parsing part: %w", err)
		}
		if !ok {
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// parsePart locates the inner status line and inner body within one
// multipart segment (which itself still carries its own part headers).
func parsePart(seg string) (model.BatchResult, bool, error) {
	idx := strings.Index(seg, statusLineRe)
	if idx < 0 {
		return model.BatchResult{}, false, nil
	}
	inner := seg[idx:]

	scanner := bufio.NewScanner(strings.NewReader(inner))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return model.BatchResult{}, false, nil
	}
	status, err := parseStatusLine(scanner.Text())
	if err != nil {
		return model.BatchResult{}, false, err
	}

	// Advance past inner headers to the blank line separating headers
	// from the inner body.
	var bodyLines []string
	inHeaders := true
	for scanner.Scan() {
		line := scanner.Text()
		if inHeaders {
			if strings.TrimSpace(line) == "" {
				inHeaders = false
				continue
			}
			continue
		}
		bodyLines = append(bodyLines, line)
	}

	innerBody := strings.TrimSpace(strings.Join(bodyLines, "\n"))
	return model.BatchResult{Status: status, Body: parseInnerBody(innerBody, status)}, true, nil
}

func parseStatusLine(line string) (int, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed status code in %q: %w", line, err)
	}
	return code, nil
}

// parseInnerBody implements spec.md §4.4's body-classification rule.
func parseInnerBody(body string, status int) any {
	if status == 204 || body == "" {
		return nil
	}
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		var v any
		if err := json.Unmarshal([]byte(body), &v); err == nil {
			return v
		}
	}
	if status >= 200 && status < 300 {
		return map[string]any{"message": body}
	}
	return map[string]any{"error": map[string]any{"message": body}}
}
