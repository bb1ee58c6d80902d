package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	// 导出 Excel 和一次定位（默认 10 秒）都要在写超时内完成
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return &Server{httpServer: s, logger: logger}
}

// Start 监听并阻塞服务；Stop 之后返回 http.ErrServerClosed
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting wisefido-checkin HTTP server", zap.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

// Addr 实际监听地址（配置为 :0 时可用来取端口），未启动时返回配置值
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Stop 优雅关闭；ctx 到期后强制关闭剩余连接
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-checkin HTTP server")
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("HTTP server shutdown timed out, closing connections")
		return s.httpServer.Close()
	}
	return err
}
