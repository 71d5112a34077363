package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, inbound string) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var fromGin, fromCtx string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		fromGin = Value(c)
		fromCtx = FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(Header, inbound)
	}
	r.ServeHTTP(w, req)
	return w, fromGin, fromCtx
}

func TestReusesInboundID(t *testing.T) {
	w, fromGin, fromCtx := serve(t, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(Header))
	assert.Equal(t, "abc-123", fromGin)
	assert.Equal(t, "abc-123", fromCtx)
}

func TestGeneratesIDWhenMissingOrOversized(t *testing.T) {
	for _, inbound := range []string{"", strings.Repeat("x", maxLength+1)} {
		w, fromGin, _ := serve(t, inbound)
		_, err := uuid.Parse(fromGin)
		assert.NoError(t, err)
		assert.Equal(t, fromGin, w.Header().Get(Header))
	}
}
