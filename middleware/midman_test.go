package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tag(name string, trail *[]string) gin.HandlerFunc {
	return func(*gin.Context) { *trail = append(*trail, name) }
}

func serve(chain *Chain) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(chain.Handler())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestChainOrderReplaceRemove(t *testing.T) {
	var trail []string
	chain := NewChain()
	chain.Set("a", tag("a", &trail))
	chain.Set("b", tag("b", &trail))
	chain.Set("a", tag("a2", &trail))
	assert.Equal(t, []string{"a", "b"}, chain.Names())

	w := serve(chain)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a2", "b"}, trail)

	assert.True(t, chain.Remove("a"))
	assert.False(t, chain.Remove("a"))
	trail = nil
	serve(chain)
	assert.Equal(t, []string{"b"}, trail)
}

func TestChainFaultAborts(t *testing.T) {
	var trail []string
	chain := NewChain()
	chain.Set("fault", Fault(http.StatusServiceUnavailable))
	chain.Set("after", tag("after", &trail))

	w := serve(chain)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "injected fault")
	assert.Empty(t, trail)
}

func TestLatencyDelaysRequest(t *testing.T) {
	chain := NewChain()
	chain.Set("latency", Latency(30*time.Millisecond))
	start := time.Now()
	w := serve(chain)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRequestIDIsEchoed(t *testing.T) {
	chain := NewChain()
	chain.Set("rid", RequestID())
	w := serve(chain)
	id := w.Header().Get(HeaderRequestID)
	require.NotEmpty(t, id)
	assert.Equal(t, 4, strings.Count(id, "-"))
}
