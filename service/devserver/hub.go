package devserver

import (
	"net"
	"sync"
	"time"

	"ChatSync/logger"
	"ChatSync/tools/ids"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== 配置 =====

type HubConf struct {
	SendQueue    int           // 每连接发送队列长度（默认 64）
	PingInterval time.Duration // 服务端 ping 周期（默认 30s）
	PongWait     time.Duration // 读超时，收到 pong 续期（默认 60s）
	WriteWait    time.Duration // 单次写超时（默认 5s）
	MaxPerUser   int           // 每用户最大连接数（<=0 不限制；超限淘汰最老连接）
}

func (c *HubConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
}

// FrameHandler receives text frames read from a user's socket.
type FrameHandler func(user string, data []byte)

// ===== 数据结构 =====

type wsConn struct {
	SnowID    string
	UserID    string
	Conn      *websocket.Conn
	CreatedAt time.Time

	send      chan []byte // 每连接独立发送队列
	done      chan struct{}
	closeOnce sync.Once
}

func (w *wsConn) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.Conn.Close()
	})
}

// Hub tracks the push sockets of every user and fans frames out to them.
type Hub struct {
	mu      sync.RWMutex
	bySnow  map[string]*wsConn            // 主索引：snowID -> conn
	byUser  map[string]map[string]*wsConn // 辅助索引：userID -> (snowID -> conn)
	conf    HubConf
	onFrame FrameHandler
	closed  bool
}

func NewHub(conf HubConf) *Hub {
	conf.norm()
	return &Hub{
		bySnow: make(map[string]*wsConn),
		byUser: make(map[string]map[string]*wsConn),
		conf:   conf,
	}
}

func (h *Hub) SetFrameHandler(f FrameHandler) {
	h.mu.Lock()
	h.onFrame = f
	h.mu.Unlock()
}

// Serve owns conn until it closes: it registers the socket for user, starts the
// write pump and runs the read loop on the calling goroutine.
func (h *Hub) Serve(conn *websocket.Conn, user string) {
	w := &wsConn{
		SnowID:    ids.GenerateString(),
		UserID:    user,
		Conn:      conn,
		CreatedAt: time.Now(),
		send:      make(chan []byte, h.conf.SendQueue),
		done:      make(chan struct{}),
	}
	if !h.add(w) {
		_ = conn.Close()
		return
	}
	defer h.remove(w)

	go h.writePump(w)
	h.readPump(w)
}

func (h *Hub) add(w *wsConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.conf.MaxPerUser > 0 {
		h.ensureRoomForUserLocked(w.UserID)
	}
	h.bySnow[w.SnowID] = w
	if h.byUser[w.UserID] == nil {
		h.byUser[w.UserID] = make(map[string]*wsConn)
	}
	h.byUser[w.UserID][w.SnowID] = w
	logger.Debug("[Hub] online", zap.String("user", w.UserID), zap.String("snowID", w.SnowID))
	return true
}

func (h *Hub) remove(w *wsConn) {
	h.mu.Lock()
	delete(h.bySnow, w.SnowID)
	if mm := h.byUser[w.UserID]; mm != nil {
		delete(mm, w.SnowID)
		if len(mm) == 0 {
			delete(h.byUser, w.UserID)
		}
	}
	h.mu.Unlock()
	w.close()
	logger.Debug("[Hub] offline", zap.String("user", w.UserID), zap.String("snowID", w.SnowID))
}

func (h *Hub) ensureRoomForUserLocked(user string) {
	mm := h.byUser[user]
	for len(mm) >= h.conf.MaxPerUser {
		var oldest *wsConn
		for _, w := range mm {
			if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
				oldest = w
			}
		}
		delete(mm, oldest.SnowID)
		delete(h.bySnow, oldest.SnowID)
		go oldest.close() // 解锁后关闭
	}
}

func (h *Hub) readPump(w *wsConn) {
	conn := w.Conn
	conn.SetReadLimit(1 << 20) // 1MB
	_ = conn.SetReadDeadline(time.Now().Add(h.conf.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.conf.PongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("[Hub] peer closed", zap.String("snowID", w.SnowID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Info("[Hub] read timeout", zap.String("snowID", w.SnowID))
			} else {
				logger.Debug("[Hub] read err", zap.String("snowID", w.SnowID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		h.mu.RLock()
		f := h.onFrame
		h.mu.RUnlock()
		if f != nil {
			f(w.UserID, data)
		}
	}
}

func (h *Hub) writePump(w *wsConn) {
	t := time.NewTicker(h.conf.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case data := <-w.send:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(h.conf.WriteWait))
			if err := w.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("[Hub] write err", zap.String("snowID", w.SnowID), zap.Error(err))
				w.close()
				return
			}
		case <-t.C:
			if err := w.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(h.conf.WriteWait)); err != nil {
				w.close()
				return
			}
		}
	}
}

// SendUser queues data on every socket of user and returns how many accepted it.
// A socket whose queue is full is closed; its client reconnects or falls back.
func (h *Hub) SendUser(user string, data []byte) int {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.byUser[user]))
	for _, w := range h.byUser[user] {
		conns = append(conns, w)
	}
	h.mu.RUnlock()

	n := 0
	for _, w := range conns {
		select {
		case <-w.done:
			continue
		default:
		}
		select {
		case w.send <- data:
			n++
		default:
			logger.Warn("[Hub] send queue full, closing", zap.String("user", user), zap.String("snowID", w.SnowID))
			w.close()
		}
	}
	return n
}

// Online returns the number of open sockets of user.
func (h *Hub) Online(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[user])
}

// Kick closes every socket of user.
func (h *Hub) Kick(user string) int {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.byUser[user]))
	for _, w := range h.byUser[user] {
		conns = append(conns, w)
	}
	h.mu.RUnlock()
	for _, w := range conns {
		w.close()
	}
	return len(conns)
}

// Close closes all sockets; later Serve calls are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*wsConn, 0, len(h.bySnow))
	for _, w := range h.bySnow {
		conns = append(conns, w)
	}
	h.mu.Unlock()
	for _, w := range conns {
		w.close()
	}
}
