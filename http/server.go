// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8080,
		Timeout:      30 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, api *API, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           NewHandler(config, api, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.Timeout,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// NewHandler builds the routed handler behind the middleware chain.
func NewHandler(config ServerConfig, api *API, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	api.RegisterHandlers(mux)

	chain := Chain(
		RecoveryMiddleware(logger),            // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(logger),              // 2. 日志中间件
		MetricsMiddleware(api.Metrics()),      // 3. 请求指标
		SecurityHeadersMiddleware,             // 4. 安全头中间件
		CORSMiddleware(config.AllowedOrigins), // 5. CORS中间件
		RequestSizeMiddleware(config.MaxBodyBytes),
		TimeoutMiddleware(config.Timeout),
	)
	return chain(mux)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.String("websocket", "/ws/predict"),
	)
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
