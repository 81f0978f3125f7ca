package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ChatSync/global/config"
	"ChatSync/logger"
	"ChatSync/middleware"
	"ChatSync/middleware/security"
	"ChatSync/module/chat/model"
	"ChatSync/service/transport"
	"ChatSync/tools/decode"
	"ChatSync/tools/errs"
	jwtsec "ChatSync/tools/security"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dev-only routes used by tests and the CLI to seed data.
const (
	PathConversations = "/dev/conversations/"
	PathNotify        = "/dev/notify/"
)

type Options struct {
	Secret   []byte
	TokenTTL time.Duration
	// Users maps username to password. Nil accepts any non-empty password.
	Users     map[string]string
	Allocator IDAllocator
	Clock     clock.Clock
	Endpoints config.EndpointConfig
	Hub       HubConf
}

// Server is a development backend speaking the same HTTP and push protocol as
// the production web backend: compose, fetch, typing, updates, login and a push
// socket per user.
type Server struct {
	opts   Options
	jwt    jwtsec.Options
	store  *Store
	ids    IDAllocator
	hub    *Hub
	clock  clock.Clock
	mids   *middleware.Chain
	engine *gin.Engine
}

// names of the switchable middleware
const (
	MidRequestID = "request_id"
	MidLatency   = "latency"
	MidFault     = "fault"
)

var upgraded = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

func New(opts Options) *Server {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("dev-secret")
	}
	if opts.Allocator == nil {
		opts.Allocator = NewMemAllocator()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Endpoints == (config.EndpointConfig{}) {
		opts.Endpoints = config.Default().Endpoints
	}
	s := &Server{
		opts:  opts,
		jwt:   jwtsec.DefaultOptions(opts.Secret),
		store: NewStore(),
		ids:   opts.Allocator,
		hub:   NewHub(opts.Hub),
		clock: opts.Clock,
		mids:  middleware.NewChain(),
	}
	if opts.TokenTTL > 0 {
		s.jwt.TTL = opts.TokenTTL
	}
	s.hub.SetFrameHandler(s.onFrame)
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog())

	s.mids.Set(MidRequestID, middleware.RequestID())
	r.Use(s.mids.Handler())

	authOpts := security.DefaultOptions(s.opts.Secret)
	authOpts.JWT = s.jwt
	mid := middleware.NewRouter(r, security.Middleware(authOpts))

	ep := s.opts.Endpoints
	mid.POST(ep.Login, s.handleLogin, middleware.RouteOpt{IsAuth: false})
	mid.POST(ginPath(ep.Compose), s.handleCompose, middleware.RouteOpt{IsAuth: true})
	mid.GET(ginPath(ep.Fetch), s.handleFetch, middleware.RouteOpt{IsAuth: true, XHR: true})
	mid.POST(ep.Typing, s.handleTyping, middleware.RouteOpt{IsAuth: true})
	mid.GET(ep.Updates, s.handleUpdates, middleware.RouteOpt{IsAuth: true, XHR: true})
	mid.GET(ep.Push, s.handlePush, middleware.RouteOpt{IsAuth: true})

	mid.POST(PathConversations, s.handleCreateConversation, middleware.RouteOpt{})
	mid.POST(PathNotify, s.handleNotify, middleware.RouteOpt{})
	return r
}

// ginPath turns "/conversation/{conversation_id}/" into "/conversation/:conversation_id/".
func ginPath(p string) string {
	return strings.ReplaceAll(p, "{conversation_id}", ":conversation_id")
}

func (s *Server) Handler() http.Handler { return s.engine }
func (s *Server) Store() *Store { return s.store }
func (s *Server) Hub() *Hub { return s.hub }

// Middleware is the switchable chain in front of every route.
func (s *Server) Middleware() *middleware.Chain { return s.mids }

// Close drops every push socket.
func (s *Server) Close() { s.hub.Close() }

// IssueToken signs a bearer token for user without a login round trip.
func (s *Server) IssueToken(user string) (string, error) {
	tok, _, err := jwtsec.Generate(s.jwt, user)
	return tok, err
}

func (s *Server) CreateConversation(participants ...string) int64 {
	return s.store.CreateConversation(participants...)
}

// Emit pushes a notification frame to every socket of user and records it in
// the updates summary. It returns how many sockets took the frame.
func (s *Server) Emit(user string, n model.Notification) (int, error) {
	data, ok := notificationFrame(n)
	if !ok {
		return 0, errs.ErrArgs.WrapMsg("unsupported notification", "kind", n.Kind().String())
	}
	switch n.(type) {
	case model.NewBooking:
		s.store.AddBooking(user)
	case model.PaymentReceived:
		s.store.AddPayment(user)
	}
	return s.hub.SendUser(user, data), nil
}

// Send stores a message from sender as if it was composed over HTTP.
func (s *Server) Send(ctx context.Context, convID int64, sender, content, clientToken string) (model.ServerMessage, error) {
	msg := model.ServerMessage{
		ConversationID: convID,
		Sender:         sender,
		MessageType:    model.MessageTypeText,
		SentAt:         s.clock.Now(),
		ClientToken:    clientToken,
	}
	if content != "" {
		msg.Content = model.StringPtr(content)
	}
	return s.persist(ctx, msg)
}

func (s *Server) persist(ctx context.Context, msg model.ServerMessage) (model.ServerMessage, error) {
	if !s.store.IsParticipant(msg.ConversationID, msg.Sender) {
		return model.ServerMessage{}, errs.ErrRecordNotFound.WrapMsg("conversation not found", "conversation", msg.ConversationID)
	}
	stored, dup, err := s.store.Append(msg, func(floor int64) (int64, error) {
		return s.ids.Next(ctx, msg.ConversationID, floor)
	})
	if err != nil {
		return model.ServerMessage{}, err
	}
	if !dup {
		s.fanout(stored)
	}
	return stored, nil
}

// fanout sends new_message to every participant. The sender's own sockets get
// the echo with client_token so other devices and the sending client can
// reconcile it.
func (s *Server) fanout(m model.ServerMessage) {
	participants, err := s.store.Participants(m.ConversationID)
	if err != nil {
		return
	}
	wire := toWire(m, isoLayout)
	for _, p := range participants {
		data, err := json.Marshal(newMessageFrame{
			Type:           transport.FrameNewMessage,
			Sender:         m.Sender,
			UnreadCount:    s.store.Unread(p),
			ConversationID: m.ConversationID,
			Message:        wire,
		})
		if err != nil {
			logger.Error("[DevServer] encode new_message", zap.Error(err))
			return
		}
		s.hub.SendUser(p, data)
	}
}

func (s *Server) setTyping(user string, convID int64, isTyping bool) error {
	if err := s.store.SetTyping(convID, user, isTyping); err != nil {
		return err
	}
	participants, _ := s.store.Participants(convID)
	data, err := json.Marshal(typingFrame{Type: transport.FrameTyping, ConversationID: convID, UserID: user, IsTyping: isTyping})
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p != user {
			s.hub.SendUser(p, data)
		}
	}
	return nil
}

// onFrame handles frames clients send on the push socket; only typing is
// understood.
func (s *Server) onFrame(user string, data []byte) {
	m, err := decode.ParseObject(data)
	if err != nil {
		logger.Debug("[DevServer] bad frame", zap.String("user", user), zap.ByteString("sample", sample(data)))
		return
	}
	typ, _ := decode.ReadString(m, "type")
	if typ != transport.FrameTyping {
		logger.Debug("[DevServer] ignore frame", zap.String("user", user), zap.String("type", typ))
		return
	}
	f, err := decode.DecodeMap[typingBody](m)
	if err != nil {
		logger.Debug("[DevServer] bad typing frame", zap.String("user", user), zap.Error(err))
		return
	}
	if err := s.setTyping(user, f.ConversationID, f.IsTyping); err != nil {
		logger.Debug("[DevServer] typing", zap.String("user", user), zap.Error(err))
	}
}

func sample(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}
