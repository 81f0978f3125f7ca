package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Chain is a named, mutable middleware list mounted once on an engine. The dev
// backend uses it to switch request ids, artificial latency and fault injection on
// and off while it is serving.
type Chain struct {
	mu    sync.RWMutex
	names []string
	mids  map[string]gin.HandlerFunc
}

func NewChain() *Chain {
	return &Chain{mids: make(map[string]gin.HandlerFunc)}
}

// Set registers h under name. An existing entry keeps its position.
func (m *Chain) Set(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mids[name]; !ok {
		m.names = append(m.names, name)
	}
	m.mids[name] = h
}

// Remove drops name and reports whether it was registered.
func (m *Chain) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mids[name]; !ok {
		return false
	}
	delete(m.mids, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	return true
}

// Names lists the registered middleware in run order.
func (m *Chain) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...)
}

// Handler runs a snapshot of the chain; an abort stops the request there.
func (m *Chain) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := make([]gin.HandlerFunc, 0, len(m.names))
		for _, n := range m.names {
			handlers = append(handlers, m.mids[n])
		}
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// Latency delays every request by d.
func Latency(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		case <-time.After(d):
		case <-c.Request.Context().Done():
			c.AbortWithStatus(499)
		}
	}
}

// Fault answers every request with status.
func Fault(status int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.AbortWithStatusJSON(status, gin.H{"error": "injected fault"})
	}
}
