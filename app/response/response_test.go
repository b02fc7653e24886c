package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
)

func serveError(t *testing.T, err error) (int, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(ProvideResponseLocalizer(i18n.NewLocalizer("en", "zh-CN")), NewResponse())
	engine.GET("/", func(c *gin.Context) {
		APIError(c, err)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var res Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return w.Code, res
}

func TestAPIErrorRendersData(t *testing.T) {
	err := errors.New("test", i18n.ERROR_MORE_THAN_MAX, nil).
		WithData(map[string]interface{}{"max": 4}).
		Code(http.StatusTooManyRequests)

	code, res := serveError(t, fmt.Errorf("acquire: %w", err))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, http.StatusTooManyRequests, res.Meta.Code)
	assert.Equal(t, "The number of concurrent conversations exceeds the limit of 4.", res.Meta.Message)
	assert.NotEmpty(t, res.Meta.RequestID)
}

func TestAPIErrorHidesUnknownErrors(t *testing.T) {
	code, res := serveError(t, fmt.Errorf("dial tcp 10.0.0.1:7272: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error, please try again later.", res.Meta.Message)
	assert.NotContains(t, res.Meta.Message, "10.0.0.1")
}
