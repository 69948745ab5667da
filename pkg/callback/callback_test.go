package callback_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/voiceci/voiceci/pkg/callback"
	"github.com/voiceci/voiceci/pkg/events"
	"github.com/voiceci/voiceci/pkg/session"
)

func newTestRouter(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := callback.NewHandler(secret, nil, nil, nil, session.NewManager(), events.NewManager(), nil, nil)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func TestCallbackRejectsMissingSecret(t *testing.T) {
	r := newTestRouter(t, "s3cr3t")
	req := httptest.NewRequest(http.MethodPost, "/internal/runner-callback", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallbackRejectsWrongSecret(t *testing.T) {
	r := newTestRouter(t, "s3cr3t")
	req := httptest.NewRequest(http.MethodPost, "/internal/runner-callback", bytes.NewBufferString("{}"))
	req.Header.Set("X-VoiceCI-Callback-Secret", "wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallbackRejectsInvalidJSONWithCorrectSecret(t *testing.T) {
	r := newTestRouter(t, "s3cr3t")
	req := httptest.NewRequest(http.MethodPost, "/internal/runner-callback", bytes.NewBufferString("not json"))
	req.Header.Set("X-VoiceCI-Callback-Secret", "s3cr3t")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
