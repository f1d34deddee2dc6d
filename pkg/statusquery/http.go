package statusquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"opsrun/pkg/poller"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

var ErrFieldNotFound = errors.New("status field not found")

// HTTPJSON returns a query that GETs url and reads the dotted field path from
// the JSON body, e.g. "run.deploymentRunStatus" or "items.0.state". A nil
// client uses http.DefaultClient. Each request is bounded by
// DefaultRequestTimeout.
func HTTPJSON(client *http.Client, url, field string) poller.QueryFunc {
	if client == nil {
		client = http.DefaultClient
	}
	path := strings.Split(field, ".")
	return func() (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", url, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
		}
		if len(body) > maxBodyBytes {
			return "", fmt.Errorf("GET %s: status document exceeds 1 MiB", url)
		}

		return Field(body, path)
	}
}

// Field extracts the scalar at path from a JSON document and renders it as a
// string.
func Field(doc []byte, path []string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode status document: %w", err)
	}

	for i, key := range path {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrFieldNotFound, strings.Join(path[:i+1], "."))
			}
			v = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", fmt.Errorf("%w: %s", ErrFieldNotFound, strings.Join(path[:i+1], "."))
			}
			v = node[idx]
		default:
			return "", fmt.Errorf("%w: %s", ErrFieldNotFound, strings.Join(path[:i+1], "."))
		}
	}

	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case bool:
		return strconv.FormatBool(s), nil
	case nil:
		return "", fmt.Errorf("%w: %s is null", ErrFieldNotFound, strings.Join(path, "."))
	default:
		return "", fmt.Errorf("status field %s is not a scalar", strings.Join(path, "."))
	}
}
