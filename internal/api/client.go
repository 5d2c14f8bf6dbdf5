// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eternallink/arlink/internal/gesture"
	"github.com/eternallink/arlink/internal/model"
)

// ErrUnauthorized is returned on 401: the session token has expired.
var ErrUnauthorized = errors.New("session expired, please login again")

// ErrEmptyDownload is returned when the content store answers with no bytes.
var ErrEmptyDownload = errors.New("downloaded file is empty")

// Error is a non-2xx response from the API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client handles communication with the EternalLink API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a new API client. token may be empty for anonymous calls.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// WithTimeout sets the per-request timeout. Zero leaves the default.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.httpClient.Timeout = d
	}
	return c
}

// UploadRequest describes an AR video message to publish.
type UploadRequest struct {
	ChatID      int64
	Location    model.Location
	Gesture     gesture.Gesture
	ExpiresIn   time.Duration // zero means no expiry
	ReplyTo     int64         // zero means not a reply
	OneTimeView bool
}

type messageRequest struct {
	ChatID            int64  `json:"chatId"`
	Content           string `json:"content"`
	ReplyToMessageID  int64  `json:"replyToMessageId,omitempty"`
	ExpirationSeconds int64  `json:"expirationSeconds,omitempty"`
	IsOneTimeView     bool   `json:"isOneTimeView,omitempty"`
}

type arMessageRequest struct {
	ChatID         int64           `json:"chatId"`
	Latitude       float64         `json:"latitude"`
	Longitude      float64         `json:"longitude"`
	Altitude       float64         `json:"altitude"`
	ExpiresAt      *time.Time      `json:"expiresAt"`
	GestureTrigger gesture.Gesture `json:"gestureTrigger"`
}

type uploadResponse struct {
	Success       bool   `json:"success"`
	VideoIpfsHash string `json:"videoIpfsHash"`
	Message       string `json:"message"`
}

// UploadARVideo publishes a recorded clip with its AR metadata and returns
// the content hash assigned by the server.
func (c *Client) UploadARVideo(ctx context.Context, r UploadRequest, video io.Reader) (string, error) {
	if !r.Gesture.Valid() {
		return "", fmt.Errorf("upload requires a gesture trigger, got %q", r.Gesture)
	}

	msg := messageRequest{
		ChatID:           r.ChatID,
		Content:          "(AR Video Message)",
		ReplyToMessageID: r.ReplyTo,
		IsOneTimeView:    r.OneTimeView,
	}
	if r.ExpiresIn > 0 {
		msg.ExpirationSeconds = int64(r.ExpiresIn / time.Second)
	}
	data := arMessageRequest{
		ChatID:         r.ChatID,
		Latitude:       r.Location.Latitude,
		Longitude:      r.Location.Longitude,
		Altitude:       r.Location.Altitude,
		ExpiresAt:      model.ExpiresAtFrom(c.now(), r.ExpiresIn),
		GestureTrigger: r.Gesture,
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode AR data: %w", err)
	}

	// Create multipart form
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// Write form fields and file in goroutine
	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer writer.Close()

		_ = writer.WriteField("message", string(msgJSON))
		_ = writer.WriteField("data", string(dataJSON))

		part, err := writer.CreateFormFile("video", "ar-video.webm")
		if err != nil {
			pw.CloseWithError(err)
			errCh <- fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, video); err != nil {
			pw.CloseWithError(err)
			errCh <- fmt.Errorf("failed to copy video: %w", err)
			return
		}
		errCh <- nil
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ar-messages/video", pr)
	if err != nil {
		pr.Close()
		<-errCh
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out uploadResponse
	doErr := c.do(req, &out)

	// A failed request closes the pipe reader, which unblocks the writer.
	pr.Close()
	writeErr := <-errCh

	if doErr != nil {
		return "", doErr
	}
	if writeErr != nil {
		return "", writeErr
	}
	if !out.Success {
		if out.Message == "" {
			out.Message = "failed to send AR video message"
		}
		return "", errors.New(out.Message)
	}
	if out.VideoIpfsHash == "" {
		return "", errors.New("upload response carries no content hash")
	}
	return out.VideoIpfsHash, nil
}

// Download fetches a blob from the content store by hash.
func (c *Client) Download(ctx context.Context, hash string) (model.Blob, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/files/download/"+url.PathEscape(hash), nil)
	if err != nil {
		return model.Blob{}, err
	}
	resp, err := c.send(req)
	if err != nil {
		return model.Blob{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Blob{}, fmt.Errorf("failed to read download: %w", err)
	}
	if len(body) == 0 {
		return model.Blob{}, ErrEmptyDownload
	}
	return model.Blob{Data: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

type markViewedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MarkViewed tells the server the recipient performed the trigger gesture.
// It reports whether the server accepted the view.
func (c *Client) MarkViewed(ctx context.Context, id int64, performed gesture.Gesture) (bool, error) {
	q := url.Values{"gesturePerformed": {performed.String()}}
	path := "/ar-messages/view/" + strconv.FormatInt(id, 10) + "?" + q.Encode()
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return false, err
	}
	var out markViewedResponse
	if err := c.do(req, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

// ChatMessages returns the messages of a chat, oldest first.
func (c *Client) ChatMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/messages/chat/"+strconv.FormatInt(chatID, 10), nil)
	if err != nil {
		return nil, err
	}
	var out []model.Message
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Nearby returns AR messages anchored within radiusKm of a point.
func (c *Client) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]model.ARMessage, error) {
	q := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"radius":    {strconv.FormatFloat(radiusKm, 'f', -1, 64)},
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/ar-messages/nearby?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out []model.ARMessage
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Healthcheck checks if the API is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// send attaches the bearer token and maps error statuses.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp, nil
}

// do sends req and decodes a JSON body into out. 204 leaves out untouched.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func responseError(resp *http.Response) *Error {
	e := &Error{Status: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil && body.Message != "" {
		e.Message = body.Message
		return e
	}
	e.Message = "Server error: " + http.StatusText(resp.StatusCode)
	return e
}
