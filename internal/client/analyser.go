package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/errors"
)

const (
	uploadPath    = "/upload-audio"
	reportPath    = "/analysis-report/"
	rephrasalPath = "/generate-rephrasals"

	maxReportBytes = 32 << 20
	maxErrorBody   = 4 << 10
)

// AnalyserClient talks to the external speech analysis backend: a multipart
// upload that returns a tracking id, a per-id WebSocket that pushes the
// report, and the rephrasal endpoint.
type AnalyserClient struct {
	baseURL *url.URL
	client  *http.Client
	dialer  *websocket.Dialer
}

// UploadResponse is the body returned by the upload endpoint.
type UploadResponse struct {
	ID string `json:"id"`
}

// NewAnalyserClient creates a client for the backend at baseURL.
func NewAnalyserClient(baseURL string, timeout time.Duration) (*AnalyserClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse analyser url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("analyser url must be http or https, got %q", baseURL)
	}

	return &AnalyserClient{
		baseURL: u,
		client: &http.Client{
			Timeout: timeout,
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
	}, nil
}

// Upload posts the blob as the "file" field and returns the tracking id.
// Every failure is UPLOAD_FAILED; nothing is retried.
func (c *AnalyserClient) Upload(ctx context.Context, blob audio.Blob) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filename := blob.Filename()
	if filename == "" {
		filename = "recording"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", blob.MIMEType())

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", errors.UploadFailed("failed to create form file", err)
	}
	if _, err := io.Copy(part, blob.Reader()); err != nil {
		return "", errors.UploadFailed("failed to write audio data", err)
	}
	if err := writer.Close(); err != nil {
		return "", errors.UploadFailed("failed to close multipart writer", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(uploadPath), &body)
	if err != nil {
		return "", errors.UploadFailed("failed to create request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.UploadFailed("failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", errors.UploadFailed(
			fmt.Sprintf("analyser upload error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var result UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.UploadFailed("failed to decode upload response", err)
	}
	if result.ID == "" {
		return "", errors.UploadFailed("upload response has no tracking id", nil)
	}
	return result.ID, nil
}

// AwaitReport opens the report channel for id and returns the first message.
// The channel is closed as soon as that message arrives, and when ctx ends.
func (c *AnalyserClient) AwaitReport(ctx context.Context, id string) ([]byte, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.reportURL(id), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil {
			return nil, errors.ChannelError(fmt.Sprintf("report channel handshake failed with status %d", resp.StatusCode), err)
		}
		return nil, errors.ChannelError("failed to open report channel", err)
	}
	conn.SetReadLimit(maxReportBytes)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ChannelError("report channel closed before a message arrived", err)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "report received"),
		time.Now().Add(time.Second))
	conn.Close()
	return data, nil
}

// Rephrase asks the backend for rephrased variants of text, keyed by variant name.
func (c *AnalyserClient) Rephrase(ctx context.Context, text string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(rephrasalPath), strings.NewReader(text))
	if err != nil {
		return nil, errors.Wrap(errors.ErrAnalyser, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/text")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAnalyser, "failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.New(errors.ErrAnalyser,
			fmt.Sprintf("rephrasal error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var variants map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&variants); err != nil {
		return nil, errors.Wrap(errors.ErrAnalyser, "failed to decode rephrasals", err)
	}
	return variants, nil
}

func (c *AnalyserClient) endpoint(path string) string {
	u := *c.baseURL
	u.Path = u.Path + path
	return u.String()
}

func (c *AnalyserClient) reportURL(id string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = u.Path + reportPath + id
	u.RawPath = u.Path[:len(u.Path)-len(id)] + url.PathEscape(id)
	return u.String()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
