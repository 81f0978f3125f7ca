package api

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"ChatSync/global/config"
	"ChatSync/logger"
	"ChatSync/module/chat/model"
	"ChatSync/tools/decode"
	"ChatSync/tools/errs"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	headerRequestedWith = "X-Requested-With"
	requestedWithXHR    = "XMLHttpRequest"

	pathParamConversation = "conversation_id"

	// multipart form fields of the compose endpoint
	FieldContent     = "content"
	FieldMedia       = "media_file"
	FieldClientToken = "client_token"
)

// FetchResult is the body of the message fetch endpoint.
type FetchResult struct {
	Messages []model.ServerMessage `json:"messages"`
	Typing   map[string]bool       `json:"typing"`
}

type composeResponse struct {
	Success bool                 `json:"success"`
	Message *model.ServerMessage `json:"message"`
	Errors  any                  `json:"errors"`
}

type typingRequest struct {
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	ExpireAt int64  `json:"expire_at"` // unix seconds
}

// Client talks to the chat backend over HTTP. Safe for concurrent use.
type Client struct {
	rc        *resty.Client
	endpoints config.EndpointConfig

	mu    sync.RWMutex
	token string
}

func New(cfg config.AppConfig) *Client {
	timeout := cfg.Pull.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader(headerRequestedWith, requestedWithXHR).
		SetLogger(restyLogger{})
	return &Client{rc: rc, endpoints: cfg.Endpoints, token: cfg.Token}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.rc.R().SetContext(ctx)
	if tok := c.Token(); tok != "" {
		r.SetAuthToken(tok)
	}
	return r
}

// Compose posts one message. clientToken is echoed back by the backend (in the
// response and on push) so the pending row can be matched. A rejection by the
// backend is ErrComposeRejected; any other failure is ErrSendFailure.
func (c *Client) Compose(ctx context.Context, conversationID int64, draft model.Draft, clientToken string) (model.ServerMessage, error) {
	form := map[string]string{FieldContent: draft.Content}
	if clientToken != "" {
		form[FieldClientToken] = clientToken
	}
	r := c.request(ctx).
		SetPathParam(pathParamConversation, strconv.FormatInt(conversationID, 10)).
		SetMultipartFormData(form)
	if draft.Media != nil {
		r.SetMultipartField(FieldMedia, draft.Media.Filename, draft.Media.ContentType, bytes.NewReader(draft.Media.Data))
	}

	resp, err := r.Post(c.endpoints.Compose)
	if err != nil {
		return model.ServerMessage{}, errs.ErrSendFailure.WrapMsg("compose request failed", "conversation", conversationID, "err", err.Error())
	}
	body, derr := decode.DecodeJSON[composeResponse](resp.Body())
	if resp.IsError() {
		if derr == nil && !body.Success {
			return model.ServerMessage{}, errs.ErrComposeRejected.WrapMsg("compose rejected", "status", resp.StatusCode(), "errors", body.Errors)
		}
		return model.ServerMessage{}, errs.ErrSendFailure.WrapMsg("compose failed", "status", resp.StatusCode())
	}
	if derr != nil {
		return model.ServerMessage{}, errs.ErrMalformedPayload.WrapMsg("compose response", "err", derr.Error(), "sample", sample(resp.Body()))
	}
	if !body.Success {
		return model.ServerMessage{}, errs.ErrComposeRejected.WrapMsg("compose rejected", "errors", body.Errors)
	}
	if body.Message == nil || body.Message.ID <= 0 {
		return model.ServerMessage{}, errs.ErrMalformedPayload.WrapMsg("compose response without message id")
	}
	msg := *body.Message
	if msg.ConversationID == 0 {
		msg.ConversationID = conversationID
	}
	if msg.ClientToken == "" {
		msg.ClientToken = clientToken
	}
	return msg, nil
}

// Fetch returns messages with id > lastID plus the conversation's typing map.
func (c *Client) Fetch(ctx context.Context, conversationID, lastID int64) (FetchResult, error) {
	resp, err := c.request(ctx).
		SetPathParam(pathParamConversation, strconv.FormatInt(conversationID, 10)).
		SetQueryParam("last_id", strconv.FormatInt(lastID, 10)).
		Get(c.endpoints.Fetch)
	if err != nil {
		return FetchResult{}, errs.ErrTransport.WrapMsg("fetch request failed", "conversation", conversationID, "err", err.Error())
	}
	if resp.IsError() {
		return FetchResult{}, errs.ErrTransport.WrapMsg("fetch failed", "conversation", conversationID, "status", resp.StatusCode())
	}
	out, err := decode.DecodeJSON[FetchResult](resp.Body())
	if err != nil {
		return FetchResult{}, errs.ErrMalformedPayload.WrapMsg("fetch response", "err", err.Error(), "sample", sample(resp.Body()))
	}
	for i := range out.Messages {
		if out.Messages[i].ConversationID == 0 {
			out.Messages[i].ConversationID = conversationID
		}
	}
	return *out, nil
}

// SetTyping posts one typing signal.
func (c *Client) SetTyping(ctx context.Context, conversationID int64, isTyping bool) error {
	resp, err := c.request(ctx).
		SetBody(typingRequest{ConversationID: conversationID, IsTyping: isTyping}).
		Post(c.endpoints.Typing)
	if err != nil {
		return errs.ErrTransport.WrapMsg("typing request failed", "err", err.Error())
	}
	if resp.IsError() {
		return errs.ErrTransport.WrapMsg("typing rejected", "status", resp.StatusCode())
	}
	return nil
}

// Updates polls the generic updates summary.
func (c *Client) Updates(ctx context.Context) (model.UpdatesSummary, error) {
	resp, err := c.request(ctx).Get(c.endpoints.Updates)
	if err != nil {
		return model.UpdatesSummary{}, errs.ErrTransport.WrapMsg("updates request failed", "err", err.Error())
	}
	if resp.IsError() {
		return model.UpdatesSummary{}, errs.ErrTransport.WrapMsg("updates failed", "status", resp.StatusCode())
	}
	out, err := decode.DecodeJSON[model.UpdatesSummary](resp.Body())
	if err != nil {
		return model.UpdatesSummary{}, errs.ErrMalformedPayload.WrapMsg("updates response", "err", err.Error(), "sample", sample(resp.Body()))
	}
	return *out, nil
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	resp, err := c.rc.R().SetContext(ctx).
		SetBody(LoginRequest{Username: username, Password: password}).
		Post(c.endpoints.Login)
	if err != nil {
		return LoginResult{}, errs.ErrTransport.WrapMsg("login request failed", "err", err.Error())
	}
	if resp.IsError() {
		return LoginResult{}, errs.ErrTokenInvalid.WrapMsg("login rejected", "status", resp.StatusCode())
	}
	out, err := decode.DecodeJSON[LoginResult](resp.Body())
	if err != nil || out.Token == "" {
		return LoginResult{}, errs.ErrMalformedPayload.WrapMsg("login response", "sample", sample(resp.Body()))
	}
	c.SetToken(out.Token)
	logger.Debug("[API] logged in", zap.String("user", out.UserID))
	return *out, nil
}

const maxSample = 256

func sample(b []byte) string {
	if len(b) > maxSample {
		return string(b[:maxSample])
	}
	return string(b)
}

type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) { logger.Errorf("[API] "+format, v...) }
func (restyLogger) Warnf(format string, v ...interface{})  { logger.Warnf("[API] "+format, v...) }
func (restyLogger) Debugf(format string, v ...interface{}) { logger.Debugf("[API] "+format, v...) }
