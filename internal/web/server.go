package web

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"html/template"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"padron/internal/config"
	"padron/internal/pipeline"
	"padron/internal/storage"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageNames = []string{"accounts.html", "rolls.html", "roll.html"}

type Server struct {
	cfg      config.Config
	registry *storage.Registry
	importer *pipeline.ImportService
	logger   *zap.Logger
	pages    map[string]*template.Template
	imports  *rateLimiter
}

func NewServer(cfg config.Config, registry *storage.Registry, importer *pipeline.ImportService, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tpl, err := template.New("layout.html").Funcs(funcMap).ParseFS(templatesFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, errors.Wrapf(err, "parse template %s", name)
		}
		pages[name] = tpl
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		importer: importer,
		logger:   logger,
		pages:    pages,
		imports:  newRateLimiter(cfg.ImportsPerMinute),
	}, nil
}

var funcMap = template.FuncMap{
	"rollsURL":  rollsURL,
	"rollURL":   rollURL,
	"memberURL": memberURL,
	"voteLabel": func(voted bool) string {
		if voted {
			return pipeline.VotedLabel
		}
		return pipeline.NotVotedLabel
	},
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleAccounts)
	mux.HandleFunc("POST /accounts", s.handleCreateAccount)

	mux.HandleFunc("GET /panel/{account}/rolls", s.handleRolls)
	mux.HandleFunc("POST /panel/{account}/rolls", s.handleCreateRoll)
	mux.HandleFunc("GET /panel/{account}/rolls/{id}", s.handleRoll)
	mux.HandleFunc("POST /panel/{account}/rolls/{id}/import", s.handleImport)
	mux.HandleFunc("POST /panel/{account}/rolls/{id}/members", s.handleAddMember)
	mux.HandleFunc("POST /panel/{account}/rolls/{id}/members/{member}/vote", s.handleVote)
	mux.HandleFunc("POST /panel/{account}/rolls/{id}/members/{member}/delete", s.handleDeleteMember)
	mux.HandleFunc("GET /panel/{account}/rolls/{id}/export", s.handleExport)
	return mux
}

// Handler is the full middleware stack around the routes.
func (s *Server) Handler() (http.Handler, error) {
	key, err := csrfKey(s.cfg)
	if err != nil {
		return nil, err
	}
	return chain(s.routes(),
		csrfProtect(key, s.cfg),
		bodyLimit(s.cfg.MaxUploadBytes()),
		securityHeaders,
		requestLogger(s.logger),
	), nil
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr), zap.String("env", s.cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := time.Duration(s.cfg.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("http server shutting down", zap.Duration("timeout", timeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// csrfKey decodes CSRF_KEY, or makes a throwaway key when none is set. Tokens
// signed with a throwaway key stop validating after a restart.
func csrfKey(cfg config.Config) ([]byte, error) {
	if cfg.CSRFKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return key, nil
	}
	key, err := hex.DecodeString(cfg.CSRFKey)
	if err != nil {
		return nil, errors.Wrap(err, "CSRF_KEY must be hex")
	}
	if len(key) != 32 {
		return nil, errors.Errorf("CSRF_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
