package app

import (
	"context"
	"net/http"

	"github.com/trakwell-ai/websocket-notify/internal/config"
)

type App struct {
	httpServer *http.Server
	sslKey     string
	sslCert    string
	cleanup    func() error
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	router, cleanup, err := setupHTTP(ctx, cfg)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:    cfg.IP + ":" + cfg.Port,
		Handler: router,
	}

	return &App{
		httpServer: server,
		sslKey:     cfg.SSLKeyPath,
		sslCert:    cfg.SSLCertPath,
		cleanup:    cleanup,
	}, nil
}

func (a *App) Run() error {
	if a.sslKey != "" && a.sslCert != "" {
		return a.httpServer.ListenAndServeTLS(a.sslCert, a.sslKey)
	}
	return a.httpServer.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if a.cleanup != nil {
		return a.cleanup()
	}
	return nil
}
