// Package rpc implements C8's session-aware tool-call protocol (MCP over
// streamable HTTP, grounded on the teacher's MCP client wiring in
// github.com/MrWong99/glyphoxa's internal/mcp/mcphost, here turned inside
// out into a server) plus a REST surface for the dashboard, with
// bearer-token auth and the §7 error taxonomy (§4.8).
package rpc

import (
	"context"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voiceci/voiceci/pkg/events"
	"github.com/voiceci/voiceci/pkg/session"
	"github.com/voiceci/voiceci/pkg/store"
)

// Server wires the MCP tool surface, the session state machine, and the
// dashboard REST endpoints onto one gin engine.
type Server struct {
	auth      *Authenticator
	sessions  *Sessions
	push      *events.Manager
	runs      *store.RunRepository
	scenarios *store.ScenarioRepository
	objStore  ObjectStore
	campaigns *Campaigns
	loadDeps  LoadTestDeps
	announce  func(ctx context.Context, tenantID string)

	mcp *mcpsdk.Server
}

// NewServer builds the RPC surface. loadDeps configures how load_test
// dials fresh channels for its in-process campaigns. announce is called
// with the owning tenant after a run_suite call enqueues a new run, so any
// worker process not yet attached to that tenant's queue (pkg/scheduler
// Pool.AttachQueue, via pkg/events' pub/sub Listener) picks it up on its
// next poll instead of only discovering it at pool startup; it may be nil.
func NewServer(auth *Authenticator, sessionMgr *session.Manager, push *events.Manager,
	runs *store.RunRepository, scenarios *store.ScenarioRepository, objStore ObjectStore, loadDeps LoadTestDeps,
	announce func(ctx context.Context, tenantID string)) *Server {

	s := &Server{
		auth:      auth,
		sessions:  NewSessions(sessionMgr, push),
		push:      push,
		runs:      runs,
		scenarios: scenarios,
		objStore:  objStore,
		campaigns: NewCampaigns(),
		loadDeps:  loadDeps,
		announce:  announce,
	}
	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "voiceci", Version: "0.1.0"}, nil)
	s.registerTools()
	return s
}

// registerTools declares the five action tools plus the doc accessors
// against the MCP SDK's typed tool registration (§4.8).
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "configure_adapter",
		Description: "Store an adapter configuration under the current session and return its id.",
	}, s.handleConfigureAdapter)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "prepare_upload",
		Description: "Mint a presigned upload URL and the shell command to tar, hash, and upload a project bundle.",
	}, s.handlePrepareUpload)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "run_suite",
		Description: "Validate and enqueue a test suite run against a configured adapter.",
	}, s.handleRunSuite)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "load_test",
		Description: "Launch an in-process, unqueued load campaign and return immediately with a campaign id.",
	}, s.handleLoadTest)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_status",
		Description: "Fetch a run's status, expanding to the full result payload once terminal.",
	}, s.handleGetStatus)

	for name := range docStrings {
		name := name
		mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
			Name:        "get_" + name,
			Description: "Returns constant help text about " + name + ".",
		}, func(ctx context.Context, req *mcpsdk.CallToolRequest, in struct{}) (*mcpsdk.CallToolResult, string, error) {
			doc, err := GetDoc(name)
			if err != nil {
				return nil, "", err
			}
			return nil, doc, nil
		})
	}
}

func (s *Server) sessionFromRequest(req *mcpsdk.CallToolRequest) (*session.Session, error) {
	return s.sessions.Require(req.Session.ID())
}

func (s *Server) handleConfigureAdapter(ctx context.Context, req *mcpsdk.CallToolRequest, in ConfigureAdapterInput) (*mcpsdk.CallToolResult, ConfigureAdapterOutput, error) {
	sess, err := s.sessionFromRequest(req)
	if err != nil {
		return nil, ConfigureAdapterOutput{}, err
	}
	out, err := ConfigureAdapter(sess, in)
	return nil, out, err
}

func (s *Server) handlePrepareUpload(ctx context.Context, req *mcpsdk.CallToolRequest, in PrepareUploadInput) (*mcpsdk.CallToolResult, PrepareUploadOutput, error) {
	out, err := PrepareUpload(ctx, s.objStore, in)
	return nil, out, err
}

func (s *Server) handleRunSuite(ctx context.Context, req *mcpsdk.CallToolRequest, in RunSuiteInput) (*mcpsdk.CallToolResult, RunSuiteOutput, error) {
	sess, err := s.sessionFromRequest(req)
	if err != nil {
		return nil, RunSuiteOutput{}, err
	}
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return nil, RunSuiteOutput{}, NewError(KindAuth, "missing authenticated owner")
	}
	out, err := RunSuite(ctx, s.runs, sess, owner, in)
	if err == nil {
		s.sessions.BindRun(sess.ID, out.RunID)
		if s.announce != nil {
			s.announce(ctx, owner.TenantID)
		}
	}
	return nil, out, err
}

func (s *Server) handleLoadTest(ctx context.Context, req *mcpsdk.CallToolRequest, in LoadTestInput) (*mcpsdk.CallToolResult, LoadTestOutput, error) {
	out := LoadTest(s.campaigns, s.loadDeps, in)
	return nil, out, nil
}

func (s *Server) handleGetStatus(ctx context.Context, req *mcpsdk.CallToolRequest, in GetStatusInput) (*mcpsdk.CallToolResult, GetStatusOutput, error) {
	out, err := GetStatus(ctx, s.runs, s.scenarios, in)
	return nil, out, err
}

// RegisterRoutes mounts the MCP streamable-HTTP endpoint, the push
// stream, and the dashboard REST surface onto engine, all behind the
// bearer-auth middleware (§4.8).
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	mcpHandler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)

	authed := engine.Group("/")
	authed.Use(s.auth.Middleware())
	authed.Any("/mcp", gin.WrapH(mcpHandler))
	authed.GET("/events/stream", s.sessions.HandlePushStream)
	authed.GET("/dashboard/runs/:run_id", s.handleDashboardGetStatus)
	authed.GET("/dashboard/campaigns/:campaign_id", s.handleDashboardCampaignStatus)
}

func (s *Server) handleDashboardGetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": toWire(NewError(KindValidation, "invalid run_id"))})
		return
	}
	out, err := GetStatus(c.Request.Context(), s.runs, s.scenarios, GetStatusInput{RunID: id})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": toWire(err)})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDashboardCampaignStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("campaign_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": toWire(NewError(KindValidation, "invalid campaign_id"))})
		return
	}
	status, ok := s.campaigns.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": toWire(NewError(KindValidation, "unknown campaign_id"))})
		return
	}
	c.JSON(http.StatusOK, status)
}
