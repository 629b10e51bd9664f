package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// errUnexpectedStatus is returned when tapstackd answers with a non-200 status.
var errUnexpectedStatus = errors.New("unexpected response status")

// fetchJSON GETs path from the tapstackd admin endpoint and decodes the
// JSON body into v.
func fetchJSON(path string, v any) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpointURL(path), nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s from %s", errUnexpectedStatus, resp.Status, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	return nil
}

// renderJSON re-marshals v with indentation for terminal output.
func renderJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
