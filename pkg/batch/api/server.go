package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// Server は REST API の HTTP サーバーです。
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// NewServer は新しい Server のインスタンスを作成します。
func NewServer(address string, handler http.Handler, shutdownTimeout time.Duration) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

// Run は ctx がキャンセルされるまでリクエストを受け付け、その後グレースフルにシャットダウンします。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("REST API サーバーを %s で起動します。", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof("REST API サーバーをシャットダウンします。")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
