// Package rest is the REST companion: a gin router that re-exposes the MCP
// tools as plain HTTP endpoints for clients that cannot speak MCP. Every call
// is forwarded to the MCP server with the caller's bearer token.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/httpserver"
	"github.com/MrWong99/osngd/internal/mcp/mcpclient"
)

// DefaultCollection is searched when /search/features gets no collection_id.
const DefaultCollection = "trn-ntwk-street-1"

const tokenKey = "bearer_token"

// Caller forwards tool calls. [mcpclient.Client] implements it.
type Caller interface {
	ListTools(ctx context.Context, token string) ([]mcpclient.Tool, error)
	CallTool(ctx context.Context, token, name string, args map[string]any) (mcpclient.Result, error)
}

// Options configures the router.
type Options struct {
	// Tokens are the accepted bearer tokens.
	Tokens *httpserver.Tokens

	// CORSOrigins enables CORS for these browser origins.
	CORSOrigins []string
}

type handlers struct {
	mcp Caller
}

// NewRouter builds the REST router.
func NewRouter(mcp Caller, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", httpserver.RequestIDHeader},
			ExposeHeaders:    []string{httpserver.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	h := &handlers{mcp: mcp}
	r.GET("/health", h.health)

	api := r.Group("/", requireBearer(opts.Tokens))
	api.GET("/tools", h.listTools)
	api.POST("/tools/:name", h.callTool)
	api.GET("/collections", h.collections)
	api.GET("/workflow/context", h.workflowContext)
	api.GET("/search/features", h.searchFeatures)
	return r
}

func requireBearer(tokens *httpserver.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := httpserver.BearerToken(c.Request)
		if tokens == nil || !tokens.Valid(tok) {
			c.Header("WWW-Authenticate", `Bearer realm="osngd"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication required"})
			return
		}
		c.Set(tokenKey, tok)
		c.Next()
	}
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "osngd-rest"})
}

func (h *handlers) listTools(c *gin.Context) {
	tools, err := h.mcp.ListTools(c.Request.Context(), c.GetString(tokenKey))
	if err != nil {
		upstreamFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools, "count": len(tools)})
}

func (h *handlers) callTool(c *gin.Context) {
	args := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			env := envelope.Build(c.Param("name"), envelope.InvalidInput("request body must be a JSON object: %v", err))
			c.JSON(http.StatusBadRequest, env)
			return
		}
	}
	h.forward(c, c.Param("name"), args)
}

func (h *handlers) collections(c *gin.Context) {
	h.forward(c, "list_collections", nil)
}

func (h *handlers) workflowContext(c *gin.Context) {
	h.forward(c, "get_workflow_context", nil)
}

func (h *handlers) searchFeatures(c *gin.Context) {
	args := map[string]any{"collection_id": c.DefaultQuery("collection_id", DefaultCollection)}
	for _, k := range []string{"bbox", "filter", "filter_lang", "crs", "bbox_crs", "query_attr", "query_attr_value"} {
		if v, ok := c.GetQuery(k); ok && v != "" {
			args[k] = v
		}
	}
	for _, k := range []string{"limit", "offset"} {
		v, ok := c.GetQuery(k)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, envelope.Build("search_features", envelope.InvalidInput("%s must be an integer", k)))
			return
		}
		args[k] = n
	}
	h.forward(c, "search_features", args)
}

// forward calls the tool and writes its JSON result, or the error envelope
// with the status matching its code.
func (h *handlers) forward(c *gin.Context, tool string, args map[string]any) {
	res, err := h.mcp.CallTool(c.Request.Context(), c.GetString(tokenKey), tool, args)
	if err != nil {
		upstreamFailure(c, err)
		return
	}

	status := http.StatusOK
	if res.IsError {
		var env envelope.Envelope
		if json.Unmarshal([]byte(res.Text), &env) == nil && env.ErrorCode != "" {
			status = envelope.HTTPStatus(env.ErrorCode)
		} else {
			status = http.StatusInternalServerError
		}
	}
	if json.Valid([]byte(res.Text)) {
		c.Data(status, "application/json; charset=utf-8", []byte(res.Text))
		return
	}
	c.JSON(status, gin.H{"result": res.Text})
}

func upstreamFailure(c *gin.Context, err error) {
	slog.Warn("rest: mcp server call failed", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusBadGateway, gin.H{"detail": fmt.Sprintf("MCP server unavailable: %v", err)})
}

// Run serves h on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("rest companion listening", "addr", addr)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rest: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rest: shutdown: %w", err)
	}
	return <-errCh
}
