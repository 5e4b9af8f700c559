package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/auth"
)

const requestTimeout = 30 * time.Second

type client struct {
	base string
	key  *ecdsa.PrivateKey
	http *http.Client
}

// do sends the request, signing anything but GET, and prints the response.
func (c *client) do(ctx context.Context, out io.Writer, method, path string, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if c.key == nil {
			return errors.New("--key is required for signed requests")
		}
		if err := auth.SignHTTP(req, c.key, time.Now()); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	fmt.Fprintln(out, string(raw))

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}
