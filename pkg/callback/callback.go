// Package callback implements C11, the machine path's result sink:
// POST /internal/runner-callback, authenticated by a shared-secret header
// rather than the bearer-token scheme C8 uses, since the caller is a
// worker process rather than an end-user client (§4.11).
package callback

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voiceci/voiceci/pkg/events"
	"github.com/voiceci/voiceci/pkg/session"
	"github.com/voiceci/voiceci/pkg/store"
	"github.com/voiceci/voiceci/pkg/telemetry"
)

// sharedSecretHeader is the server-configured header authenticating
// worker -> API result posts (§6 "Callback header").
const sharedSecretHeader = "X-VoiceCI-Callback-Secret"

// ExecuteTestsResult is the body of a completed-run callback (§4.11).
type ExecuteTestsResult struct {
	RunID     uuid.UUID            `json:"run_id"`
	Status    store.RunStatus      `json:"status"`
	Aggregate store.AggregateResult `json:"aggregate"`
	Results   []store.TestResult   `json:"results"`
	ErrorText string                `json:"error_text,omitempty"`
}

// imageBuildResult is the body of a builder VM's callback, discriminated
// from ExecuteTestsResult by the top-level "kind" field (SPEC_FULL.md
// Module Decision D).
type imageBuildResult struct {
	Kind         string `json:"kind"`
	LockfileHash string `json:"lockfile_hash"`
	ImageRef     string `json:"image_ref,omitempty"`
	ErrorText    string `json:"error_text,omitempty"`
}

// Handler persists callback bodies and pushes a result event to the
// owning session, if still connected.
type Handler struct {
	sharedSecret string
	runs         *store.RunRepository
	scenarios    *store.ScenarioRepository
	images       *store.ImageRepository
	sessions     *session.Manager
	push         *events.Manager
	logger       *slog.Logger
	instruments  *telemetry.Instruments
}

// NewHandler builds a callback Handler. sharedSecret is read once at
// startup from the env var named by config.CallbackConfig.SharedSecretEnv.
// instruments may be nil.
func NewHandler(sharedSecret string, runs *store.RunRepository, scenarios *store.ScenarioRepository,
	images *store.ImageRepository, sessions *session.Manager, push *events.Manager, logger *slog.Logger,
	instruments *telemetry.Instruments) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sharedSecret: sharedSecret, runs: runs, scenarios: scenarios,
		images: images, sessions: sessions, push: push, logger: logger, instruments: instruments,
	}
}

// RegisterRoutes mounts the callback endpoint, gated by its own
// shared-secret middleware rather than C8's bearer-auth filter.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.POST("/internal/runner-callback", h.authMiddleware(), h.handle)
}

func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(sharedSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.sharedSecret)) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func (h *Handler) handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}

	var discriminator struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(body, &discriminator); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx := c.Request.Context()
	if discriminator.Kind == "image_build" {
		h.handleImageBuild(ctx, c, body)
		return
	}
	h.handleExecuteTestsResult(ctx, c, body)
}

func (h *Handler) handleExecuteTestsResult(ctx context.Context, c *gin.Context, body []byte) {
	var result ExecuteTestsResult
	if err := json.Unmarshal(body, &result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	// Sub-results accumulate even on a duplicate callback; the client
	// joins by run_id, so repeated inserts are harmless (§4.11).
	for _, r := range result.Results {
		if err := h.scenarios.Insert(ctx, result.RunID, r); err != nil {
			h.logger.Error("callback: insert scenario result failed", "run_id", result.RunID, "error", err)
		}
	}

	// An unknown/duplicate run_id is treated as success (§7).
	if err := h.runs.Finish(ctx, result.RunID, result.Status, result.Aggregate, result.ErrorText); err != nil {
		h.logger.Error("callback: finish run failed", "run_id", result.RunID, "error", err)
	}
	if h.instruments != nil {
		h.instruments.RunsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(result.Status))))
	}

	if sessionID, ok := h.sessions.SessionForRun(result.RunID); ok {
		for _, r := range result.Results {
			if err := h.push.Push(sessionID, events.Event{Type: "result", RunID: result.RunID.String(), Payload: r}); err != nil {
				h.logger.Warn("callback: push result failed", "run_id", result.RunID, "error", err)
			}
		}
	}

	c.Status(http.StatusOK)
}

func (h *Handler) handleImageBuild(ctx context.Context, c *gin.Context, body []byte) {
	var result imageBuildResult
	if err := json.Unmarshal(body, &result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var err error
	if result.ErrorText != "" {
		err = h.images.MarkFailed(ctx, result.LockfileHash, result.ErrorText)
	} else {
		err = h.images.MarkReady(ctx, result.LockfileHash, result.ImageRef)
	}
	if err != nil {
		h.logger.Error("callback: image build callback failed", "lockfile_hash", result.LockfileHash, "error", err)
	}
	c.Status(http.StatusOK)
}
