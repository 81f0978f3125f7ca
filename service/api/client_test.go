package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ChatSync/global/config"
	"ChatSync/module/chat/model"
	"ChatSync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.Token = "tok-1"
	return New(cfg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestComposeSendsMultipartWithToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversation/7/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello", r.FormValue("content"))
		assert.Equal(t, "ct-abc", r.FormValue("client_token"))

		f, hdr, err := r.FormFile("media_file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pic.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		assert.Equal(t, []byte{1, 2, 3}, data)

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": map[string]any{
				"id":           41,
				"content":      "hello",
				"message_type": "image",
				"media_url":    "/media/pic.png",
				"sent_at":      "2024-05-01T10:00:00.123456",
				"sender":       "alice",
				"is_read":      false,
			},
		})
	})
	c := newClient(t, mux)

	msg, err := c.Compose(context.Background(), 7, model.Draft{
		Content: "hello",
		Media:   &model.Attachment{Filename: "pic.png", ContentType: "image/png", Data: []byte{1, 2, 3}},
	}, "ct-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(41), msg.ID)
	assert.Equal(t, int64(7), msg.ConversationID)
	assert.Equal(t, "ct-abc", msg.ClientToken, "token filled in when the backend does not echo it")
	assert.Equal(t, 2024, msg.SentAt.Year())
	require.NotNil(t, msg.MediaURL)
	assert.Equal(t, model.MediaImage, msg.ToMessage(7).Media.Kind)
}

func TestComposeErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversation/1/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": `{"content": ["required"]}`})
	})
	mux.HandleFunc("/conversation/2/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/conversation/3/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>login</html>"))
	})
	c := newClient(t, mux)
	ctx := context.Background()

	_, err := c.Compose(ctx, 1, model.Draft{Content: "x"}, "ct-1")
	assert.True(t, errs.ErrComposeRejected.Is(err))
	assert.True(t, errs.ErrSendFailure.Is(err), "rejection is a send failure")

	_, err = c.Compose(ctx, 2, model.Draft{Content: "x"}, "ct-2")
	assert.True(t, errs.ErrSendFailure.Is(err))
	assert.False(t, errs.ErrComposeRejected.Is(err))

	_, err = c.Compose(ctx, 3, model.Draft{Content: "x"}, "ct-3")
	assert.True(t, errs.ErrMalformedPayload.Is(err))
}

func TestComposeUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURL = "http://127.0.0.1:1"
	cfg.Pull.RequestTimeout = time.Second
	_, err := New(cfg).Compose(context.Background(), 1, model.Draft{Content: "x"}, "ct")
	assert.True(t, errs.ErrSendFailure.Is(err))
}

func TestFetchParsesBothTimestampShapes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversation/5/messages/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12", r.URL.Query().Get("last_id"))
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": []map[string]any{
				{"id": 13, "sender": "bob", "content": "a", "message_type": "text", "sent_at": "2024-05-01 10:00:00", "is_read": true},
				{"id": 14, "sender": "bob", "content": nil, "message_type": "text", "sent_at": "2024-05-01T10:00:01Z", "client_token": "ct-x"},
			},
			"typing": map[string]bool{"bob": true},
		})
	})
	c := newClient(t, mux)

	res, err := c.Fetch(context.Background(), 5, 12)
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, int64(13), res.Messages[0].ID)
	assert.Equal(t, int64(5), res.Messages[0].ConversationID)
	assert.Equal(t, 10, res.Messages[0].SentAt.Hour())
	assert.True(t, res.Messages[0].IsRead)
	assert.Nil(t, res.Messages[1].Content)
	assert.Equal(t, "ct-x", res.Messages[1].ClientToken)
	assert.Equal(t, map[string]bool{"bob": true}, res.Typing)
}

func TestFetchFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversation/1/messages/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/api/conversation/2/messages/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	c := newClient(t, mux)

	_, err := c.Fetch(context.Background(), 1, 0)
	assert.True(t, errs.ErrTransport.Is(err))
	_, err = c.Fetch(context.Background(), 2, 0)
	assert.True(t, errs.ErrMalformedPayload.Is(err))
}

func TestSetTypingAndUpdates(t *testing.T) {
	var got typingRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/typing-indicator/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("/api/updates/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"unread_messages": 3, "pending_bookings": 1, "pending_transactions": 0, "total": 4})
	})
	c := newClient(t, mux)

	require.NoError(t, c.SetTyping(context.Background(), 9, true))
	assert.Equal(t, typingRequest{ConversationID: 9, IsTyping: true}, got)

	sum, err := c.Updates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.UpdatesSummary{UnreadMessages: 3, PendingBookings: 1, Total: 4}, sum)
}

func TestLoginStoresToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login/", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "bad credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok-2", "user_id": req.Username, "expire_at": 1700000000})
	})
	mux.HandleFunc("/api/updates/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	c := newClient(t, mux)

	_, err := c.Login(context.Background(), "alice", "nope")
	assert.True(t, errs.ErrTokenInvalid.Is(err))
	assert.Equal(t, "tok-1", c.Token())

	res, err := c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.UserID)
	assert.Equal(t, int64(1700000000), res.ExpireAt)
	assert.Equal(t, "tok-2", c.Token())

	_, err = c.Updates(context.Background())
	require.NoError(t, err)
}
