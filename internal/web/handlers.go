package web

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/csrf"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"padron/internal"
	"padron/internal/pipeline"
	"padron/internal/storage"
)

const (
	msgNoFile         = "No seleccionaste archivo."
	msgTooManyImports = "Demasiadas importaciones seguidas, probá de nuevo en un momento."
)

type accountsPage struct {
	CSRFToken string
	Accounts  []internal.Account
}

type rollsPage struct {
	CSRFToken string
	Account   internal.Account
	Rolls     []internal.Roll
}

type rollPage struct {
	CSRFToken string
	Account   internal.Account
	Roll      internal.Roll
	Members   []internal.Member
	Summary   internal.Summary
	Search    string
	Imports   []internal.ImportRun
	Error     string
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.registry.ListAccounts(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "accounts.html", accountsPage{CSRFToken: csrf.Token(r), Accounts: accounts})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("nombre"))
	if name != "" {
		_, err := s.registry.CreateAccount(r.Context(), name)
		switch {
		case err == nil:
			store, err := s.registry.OpenRolls(name)
			if err != nil {
				s.internalError(w, r, err)
				return
			}
			_ = store.Close()
		case errors.Is(err, storage.ErrAccountExists):
		default:
			s.internalError(w, r, err)
			return
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRolls(w http.ResponseWriter, r *http.Request) {
	account, store, ok := s.openAccount(w, r)
	if !ok {
		return
	}
	defer store.Close()

	rolls, err := store.ListRolls(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "rolls.html", rollsPage{CSRFToken: csrf.Token(r), Account: *account, Rolls: rolls})
}

func (s *Server) handleCreateRoll(w http.ResponseWriter, r *http.Request) {
	account, store, ok := s.openAccount(w, r)
	if !ok {
		return
	}
	defer store.Close()

	if name := strings.TrimSpace(r.FormValue("nombre_padron")); name != "" {
		if _, err := store.CreateRoll(r.Context(), name); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	http.Redirect(w, r, rollsURL(account.Name), http.StatusSeeOther)
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	account, store, roll, ok := s.openRoll(w, r)
	if !ok {
		return
	}
	defer store.Close()

	s.renderRoll(w, r, http.StatusOK, store, *account, *roll, "")
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	account, store, roll, ok := s.openRoll(w, r)
	if !ok {
		return
	}
	defer store.Close()

	if !s.imports.Allow(clientIP(r)) {
		s.logger.Warn("import throttled", zap.String("client", clientIP(r)), zap.String("account", account.Name))
		s.renderRoll(w, r, http.StatusTooManyRequests, store, *account, *roll, msgTooManyImports)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.renderRoll(w, r, http.StatusRequestEntityTooLarge, store, *account, *roll, tooLargeMessage(s.cfg.MaxUploadBytes()))
			return
		}
		s.renderRoll(w, r, http.StatusBadRequest, store, *account, *roll, msgNoFile)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		s.renderRoll(w, r, http.StatusBadRequest, store, *account, *roll, msgNoFile)
		return
	}

	if _, err := s.importer.Import(r.Context(), account.Name, roll.ID, header.Filename, file); err != nil {
		if msg, ok := pipeline.UserMessage(err); ok {
			s.renderRoll(w, r, http.StatusUnprocessableEntity, store, *account, *roll, msg)
			return
		}
		s.internalError(w, r, err)
		return
	}
	http.Redirect(w, r, rollURL(account.Name, roll.ID), http.StatusSeeOther)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	account, store, roll, ok := s.openRoll(w, r)
	if !ok {
		return
	}
	defer store.Close()

	record, ok := pipeline.ManualRecord(r.FormValue("apellido"), r.FormValue("nombre"), r.FormValue("dni"))
	if ok {
		if _, err := store.AddMember(r.Context(), roll.ID, record); err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	http.Redirect(w, r, rollURL(account.Name, roll.ID), http.StatusSeeOther)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	s.memberAction(w, r, func(store storage.RollStore, rollID, memberID int64) (bool, error) {
		return store.MarkVoted(r.Context(), rollID, memberID)
	})
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	s.memberAction(w, r, func(store storage.RollStore, rollID, memberID int64) (bool, error) {
		return store.DeleteMember(r.Context(), rollID, memberID)
	})
}

func (s *Server) memberAction(w http.ResponseWriter, r *http.Request, action func(storage.RollStore, int64, int64) (bool, error)) {
	account, store, roll, ok := s.openRoll(w, r)
	if !ok {
		return
	}
	defer store.Close()

	memberID, err := strconv.ParseInt(r.PathValue("member"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	found, err := action(store, roll.ID, memberID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	target := rollURL(account.Name, roll.ID)
	if q := strings.TrimSpace(r.FormValue("q")); q != "" {
		target += "?q=" + url.QueryEscape(q)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	account, store, roll, ok := s.openRoll(w, r)
	if !ok {
		return
	}
	defer store.Close()

	members, err := store.ListMembers(r.Context(), roll.ID, "")
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := pipeline.ExportRoll(members, &buf); err != nil {
		s.internalError(w, r, err)
		return
	}

	filename := fmt.Sprintf("padron_%s_%d.xlsx", account.Name, roll.ID)
	w.Header().Set("Content-Type", pipeline.ExportContentType)
	w.Header().Set("Content-Disposition", contentDisposition(filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

// openAccount resolves {account} and opens its roll store. On false the
// response has already been written.
func (s *Server) openAccount(w http.ResponseWriter, r *http.Request) (*internal.Account, storage.RollStore, bool) {
	account, err := s.registry.GetAccount(r.Context(), r.PathValue("account"))
	if err != nil {
		s.internalError(w, r, err)
		return nil, nil, false
	}
	if account == nil {
		http.NotFound(w, r)
		return nil, nil, false
	}
	store, err := s.registry.OpenRolls(account.Name)
	if err != nil {
		s.internalError(w, r, err)
		return nil, nil, false
	}
	return account, store, true
}

func (s *Server) openRoll(w http.ResponseWriter, r *http.Request) (*internal.Account, storage.RollStore, *internal.Roll, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return nil, nil, nil, false
	}
	account, store, ok := s.openAccount(w, r)
	if !ok {
		return nil, nil, nil, false
	}
	roll, err := store.GetRoll(r.Context(), id)
	if err != nil {
		_ = store.Close()
		s.internalError(w, r, err)
		return nil, nil, nil, false
	}
	if roll == nil {
		_ = store.Close()
		http.NotFound(w, r)
		return nil, nil, nil, false
	}
	return account, store, roll, true
}

func (s *Server) renderRoll(w http.ResponseWriter, r *http.Request, status int, store storage.RollStore, account internal.Account, roll internal.Roll, message string) {
	ctx := r.Context()
	search := strings.TrimSpace(r.URL.Query().Get("q"))

	members, err := store.ListMembers(ctx, roll.ID, search)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	summary, err := store.Summary(ctx, roll.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	imports, err := store.ListImportRuns(ctx, roll.ID, 5)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	s.render(w, r, status, "roll.html", rollPage{
		CSRFToken: csrf.Token(r),
		Account:   account,
		Roll:      roll,
		Members:   members,
		Summary:   summary,
		Search:    search,
		Imports:   imports,
		Error:     message,
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	tpl, ok := s.pages[name]
	if !ok {
		s.internalError(w, r, errors.Errorf("unknown page %s", name))
		return
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		s.internalError(w, r, errors.Wrapf(err, "render %s", name))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	http.Error(w, "Error interno.", http.StatusInternalServerError)
}

func rollsURL(account string) string {
	return "/panel/" + url.PathEscape(account) + "/rolls"
}

func rollURL(account string, rollID int64) string {
	return fmt.Sprintf("%s/%d", rollsURL(account), rollID)
}

func memberURL(account string, rollID, memberID int64, action string) string {
	return fmt.Sprintf("%s/members/%d/%s", rollURL(account, rollID), memberID, action)
}

func contentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", asciiFallback(filename), url.PathEscape(filename))
}

func asciiFallback(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
