// Package httpapi exposes the tool surface and alarm management over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chime/internal/alarm"
	"chime/internal/task"
	"chime/internal/task/scheduler"
	"chime/internal/tools"
	"chime/pkg/logx"
)

type Config struct {
	Addr  string // default 127.0.0.1:8089
	Token string // bearer token for /api; empty disables auth
	Pprof bool
}

type Tasks interface {
	Snapshot() scheduler.Snapshot
	Pending(kind task.Kind) []task.ScheduledTask
	Running() []task.ScheduledTask
}

type Deps struct {
	Tools   *tools.Tools
	Alarms  *alarm.Service
	Tasks   Tasks
	Metrics http.Handler // optional
	Log     logx.Logger
}

type Server struct {
	cfg    Config
	d      Deps
	engine *gin.Engine
	srv    *http.Server
}

func New(cfg Config, d Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8089"
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, d: d, engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		snap := s.d.Tasks.Snapshot()
		c.JSON(http.StatusOK, gin.H{"ok": true, "scheduler": snap.Started})
	})
	if s.d.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.d.Metrics))
	}
	if s.cfg.Pprof {
		dbg := s.engine.Group("/debug/pprof")
		dbg.GET("/", gin.WrapF(pprof.Index))
		dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(pprof.Profile))
		dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/trace", gin.WrapF(pprof.Trace))
		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			dbg.GET("/"+name, gin.WrapH(pprof.Handler(name)))
		}
	}

	api := s.engine.Group("/api")
	if s.cfg.Token != "" {
		api.Use(bearer(s.cfg.Token))
	}
	mountTools(api, s.d.Tools)
	mountTasks(api, s.d.Tasks)
	mountAlarms(api, s.d.Alarms)
}

// Serve listens until ctx is done, then shuts down within grace.
func (s *Server) Serve(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.serveOn(ctx, ln, grace)
}

func (s *Server) serveOn(ctx context.Context, ln net.Listener, grace time.Duration) error {
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	s.d.Log.Info("http api listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}

func bearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.d.Log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)))
	}
}
