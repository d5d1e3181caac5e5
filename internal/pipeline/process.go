package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"padron/internal"
	"padron/internal/storage"
)

var (
	ErrAccountNotFound = errors.New("cuenta inexistente")
	ErrRollNotFound    = errors.New("padrón inexistente")
)

// InputError marks a failure caused by the uploaded file itself, as opposed to
// storage trouble. Its message is safe to show to the user.
type InputError struct {
	Err error
}

func (e *InputError) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnsupportedFormat):
		return ErrUnsupportedFormat.Error()
	case errors.Is(e.Err, ErrEmptyTable):
		return "El archivo está vacío."
	default:
		return "No se pudo leer el archivo: " + e.Err.Error()
	}
}

func (e *InputError) Unwrap() error { return e.Err }

// StoreOpener resolves accounts and hands out their roll stores.
type StoreOpener interface {
	GetAccount(ctx context.Context, name string) (*internal.Account, error)
	OpenRolls(account string) (storage.RollStore, error)
}

type ImportService struct {
	stores StoreOpener
	logger *zap.Logger
}

func NewImportService(stores StoreOpener, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{stores: stores, logger: logger}
}

type ImportResult struct {
	TraceID string
	RollID  int64
	Records int
}

// Import replaces the members of an account's roll with the normalized
// content of an uploaded file. Nothing is written unless the whole file reads.
func (s *ImportService) Import(ctx context.Context, account string, rollID int64, filename string, r io.Reader) (ImportResult, error) {
	start := time.Now()
	traceID := uuid.NewString()
	log := s.logger.With(
		zap.String("traceId", traceID),
		zap.String("account", account),
		zap.Int64("rollId", rollID),
		zap.String("filename", filename),
	)

	records, err := Normalize(filename, r)
	if err != nil {
		log.Warn("roll_import_rejected", zap.Error(err))
		return ImportResult{}, &InputError{Err: err}
	}

	// Opening the store of an unregistered name would create its file.
	acc, err := s.stores.GetAccount(ctx, account)
	if err != nil {
		return ImportResult{}, errors.Wrap(err, "look up account")
	}
	if acc == nil {
		return ImportResult{}, ErrAccountNotFound
	}

	store, err := s.stores.OpenRolls(acc.Name)
	if err != nil {
		return ImportResult{}, errors.Wrap(err, "open roll store")
	}
	defer store.Close()

	roll, err := store.GetRoll(ctx, rollID)
	if err != nil {
		return ImportResult{}, err
	}
	if roll == nil {
		return ImportResult{}, ErrRollNotFound
	}

	n, err := store.ReplaceMembers(ctx, rollID, records)
	if err != nil {
		return ImportResult{}, err
	}

	elapsed := time.Since(start)
	run := internal.ImportRun{
		TraceID:    traceID,
		RollID:     rollID,
		Filename:   filename,
		Records:    n,
		DurationMs: elapsed.Milliseconds(),
	}
	if err := store.InsertImportRun(ctx, run); err != nil {
		log.Warn("import run not recorded", zap.Error(err))
	}

	log.Info("roll_import", zap.Int("records", n), zap.Duration("elapsed", elapsed))
	return ImportResult{TraceID: traceID, RollID: rollID, Records: n}, nil
}

// UserMessage turns an import failure into the text shown next to the upload
// form. The second result is false for failures the user cannot fix.
func UserMessage(err error) (string, bool) {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return inputErr.Error(), true
	}
	if errors.Is(err, ErrAccountNotFound) {
		return "La cuenta no existe.", true
	}
	if errors.Is(err, ErrRollNotFound) {
		return "El padrón no existe.", true
	}
	return "", false
}
