// internal/api/client_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallink/arlink/internal/gesture"
	"github.com/eternallink/arlink/internal/model"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:3080/api", "tok")

	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:3080/api", c.baseURL)
	assert.Equal(t, "tok", c.token)
	assert.NotNil(t, c.httpClient)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:3080/api/", "")
	assert.Equal(t, "http://localhost:3080/api", c.baseURL)
}

func TestWithTimeout(t *testing.T) {
	c := New("http://x", "").WithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)

	c.WithTimeout(0)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthcheck", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, New(server.URL, "").Healthcheck(context.Background()))
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New("http://localhost:59999", "") // unlikely to be listening
	assert.Error(t, c.Healthcheck(context.Background()))
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	assert.Error(t, New(server.URL, "").Healthcheck(context.Background()))
}

func TestUploadARVideo_Success(t *testing.T) {
	var (
		gotAuth    string
		gotMessage map[string]any
		gotData    map[string]any
		gotVideo   []byte
		gotName    string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ar-messages/video", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(10<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("message")), &gotMessage))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("data")), &gotData))

		file, header, err := r.FormFile("video")
		require.NoError(t, err)
		defer file.Close()
		gotName = header.Filename
		gotVideo, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"videoIpfsHash":"QmHash"}`))
	}))
	defer server.Close()

	c := New(server.URL, "tok")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return now }

	hash, err := c.UploadARVideo(context.Background(), UploadRequest{
		ChatID:      7,
		Location:    model.Location{Latitude: 52.5, Longitude: 13.4, Altitude: 34},
		Gesture:     gesture.Clap,
		ExpiresIn:   time.Hour,
		ReplyTo:     3,
		OneTimeView: true,
	}, strings.NewReader("webm-bytes"))

	require.NoError(t, err)
	assert.Equal(t, "QmHash", hash)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "ar-video.webm", gotName)
	assert.Equal(t, "webm-bytes", string(gotVideo))

	assert.Equal(t, float64(7), gotMessage["chatId"])
	assert.Equal(t, "(AR Video Message)", gotMessage["content"])
	assert.Equal(t, float64(3), gotMessage["replyToMessageId"])
	assert.Equal(t, float64(3600), gotMessage["expirationSeconds"])
	assert.Equal(t, true, gotMessage["isOneTimeView"])

	assert.Equal(t, "CLAP", gotData["gestureTrigger"])
	assert.Equal(t, 52.5, gotData["latitude"])
	assert.Equal(t, 13.4, gotData["longitude"])
	assert.Equal(t, float64(34), gotData["altitude"])
	assert.Equal(t, "2026-01-02T04:04:05Z", gotData["expiresAt"])
	assert.NotContains(t, gotData, "videoIpfsHash")
}

func TestUploadARVideo_NoExpiry(t *testing.T) {
	var gotMessage, gotData map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		_ = json.Unmarshal([]byte(r.FormValue("message")), &gotMessage)
		_ = json.Unmarshal([]byte(r.FormValue("data")), &gotData)
		_, _ = w.Write([]byte(`{"success":true,"videoIpfsHash":"QmHash"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "").UploadARVideo(context.Background(), UploadRequest{
		ChatID:  1,
		Gesture: gesture.Wave,
	}, strings.NewReader("x"))

	require.NoError(t, err)
	assert.NotContains(t, gotMessage, "expirationSeconds")
	assert.NotContains(t, gotMessage, "replyToMessageId")
	assert.Contains(t, gotData, "expiresAt")
	assert.Nil(t, gotData["expiresAt"])
}

func TestUploadARVideo_RequiresGesture(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	_, err := New(server.URL, "").UploadARVideo(context.Background(), UploadRequest{ChatID: 1}, strings.NewReader("x"))

	assert.Error(t, err)
	assert.False(t, called)
}

func TestUploadARVideo_NotSuccessful(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"success":false,"message":"chat is archived"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "").UploadARVideo(context.Background(), UploadRequest{ChatID: 1, Gesture: gesture.Peace}, strings.NewReader("x"))

	assert.EqualError(t, err, "chat is archived")
}

func TestUploadARVideo_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"video too large"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "").UploadARVideo(context.Background(), UploadRequest{ChatID: 1, Gesture: gesture.Peace}, strings.NewReader("x"))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "video too large", apiErr.Message)
}

func TestDownload_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/download/QmHash", r.URL.Path)
		w.Header().Set("Content-Type", "video/webm")
		_, _ = w.Write([]byte("clip"))
	}))
	defer server.Close()

	blob, err := New(server.URL, "").Download(context.Background(), "QmHash")

	require.NoError(t, err)
	assert.Equal(t, []byte("clip"), blob.Data)
	assert.Equal(t, "video/webm", blob.ContentType)
}

func TestDownload_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
	}))
	defer server.Close()

	_, err := New(server.URL, "").Download(context.Background(), "QmHash")
	assert.ErrorIs(t, err, ErrEmptyDownload)
}

func TestDownload_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := New(server.URL, "stale").Download(context.Background(), "QmHash")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMarkViewed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ar-messages/view/42", r.URL.Path)
		assert.Equal(t, "THUMBS_UP", r.URL.Query().Get("gesturePerformed"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	ok, err := New(server.URL, "").MarkViewed(context.Background(), 42, gesture.ThumbsUp)

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkViewed_ErrorStatusText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := New(server.URL, "").MarkViewed(context.Background(), 42, gesture.Wave)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Server error: Internal Server Error", apiErr.Message)
}

func TestChatMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/chat/9", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":1,"content":"hi","status":"SEEN","sentAt":"2026-01-01T00:00:00Z"},
			{"id":2,"content":"(AR Video Message)","status":"SENT","sentAt":"2026-01-01T00:01:00Z",
			 "arMessage":{"id":5,"latitude":1,"longitude":2,"altitude":3,"videoIpfsHash":"QmA","gestureTrigger":"WAVE"}}
		]`))
	}))
	defer server.Close()

	msgs, err := New(server.URL, "").ChatMessages(context.Background(), 9)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[1].ARMessage)
	assert.Equal(t, gesture.Wave, msgs[1].ARMessage.GestureTrigger)
	assert.Equal(t, "QmA", msgs[1].ARMessage.VideoContentHash)
}

func TestNearby(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ar-messages/nearby", r.URL.Path)
		assert.Equal(t, "52.5", r.URL.Query().Get("latitude"))
		assert.Equal(t, "13.4", r.URL.Query().Get("longitude"))
		assert.Equal(t, "1", r.URL.Query().Get("radius"))
		_, _ = w.Write([]byte(`[{"id":5,"latitude":52.5,"longitude":13.4,"gestureTrigger":"PEACE"}]`))
	}))
	defer server.Close()

	msgs, err := New(server.URL, "").Nearby(context.Background(), 52.5, 13.4, 1)

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, gesture.Peace, msgs[0].GestureTrigger)
}

func TestContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New("http://localhost:59999", "").ChatMessages(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
