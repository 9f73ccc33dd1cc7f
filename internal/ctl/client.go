package ctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"workerd/pkg/types"
)

// Client is a thin HTTP client for the workerd API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var er types.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		return fmt.Errorf("server: %s (status %d)", er.Error, resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}

func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var st types.StatusResponse
	err := c.getJSON(ctx, "/status", &st)
	return st, err
}

func (c *Client) Models(ctx context.Context) ([]types.Model, error) {
	var mr types.ModelsResponse
	if err := c.getJSON(ctx, "/models", &mr); err != nil {
		return nil, err
	}
	return mr.Models, nil
}

func (c *Client) Load(ctx context.Context, model string, options map[string]string) error {
	return c.postJSON(ctx, "/load", types.LoadRequest{Model: model, Options: options}, nil)
}

func (c *Client) Unload(ctx context.Context, model string) error {
	return c.postJSON(ctx, "/unload", types.UnloadRequest{Model: model}, nil)
}

func (c *Client) Predict(ctx context.Context, model string, input json.RawMessage) (types.PredictResponse, error) {
	var pr types.PredictResponse
	err := c.postJSON(ctx, "/predict", types.PredictRequest{Model: model, Input: input}, &pr)
	return pr, err
}

// PredictStream posts a streaming predict and writes each NDJSON line to out
// as it arrives. Returns the terminal handler code.
func (c *Client) PredictStream(ctx context.Context, model string, input json.RawMessage, out io.Writer) (int, error) {
	body, err := json.Marshal(types.PredictRequest{Model: model, Input: input, Stream: true})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	code := 0
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		fmt.Fprintf(out, "%s\n", line)
		var term struct {
			Done bool `json:"done"`
			Code int  `json:"code"`
		}
		if err := json.Unmarshal(line, &term); err == nil && term.Done {
			code = term.Code
		}
	}
	if err := sc.Err(); err != nil {
		return code, err
	}
	return code, nil
}
