package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/school-hub/gradebook/internal/domain/shared"
)

// Holder is the process-wide owner of the current session. It is handed
// explicitly to the fetch client and the application layer; there are no
// ambient globals. Logout listeners let cache owners drop everything that
// was fetched under the cleared token.
type Holder struct {
	mu       sync.RWMutex
	current  Session
	store    Store
	logger   *slog.Logger
	onLogout []func()
}

// NewHolder creates a Holder backed by the given store.
func NewHolder(store Store, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{store: store, logger: logger}
}

// Init loads a previously persisted session, if any. Called once on
// startup; a missing session is not an error.
func (h *Holder) Init(ctx context.Context) error {
	s, err := h.store.Load(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrNoSession) {
			return nil
		}
		return err
	}
	if !s.Valid() {
		// A half-written store entry is treated as logged out.
		h.logger.Warn("discarding invalid persisted session")
		return h.store.Clear(ctx)
	}
	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
	h.logger.Info("session restored", "role", string(s.Role))
	return nil
}

// Establish stores a fresh session after a successful login.
func (h *Holder) Establish(ctx context.Context, s Session) error {
	if !s.Valid() {
		return shared.NewValidationError("session", shared.ErrEmptyValue,
			"token and role are required")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
	return h.store.Save(ctx, s)
}

// Current returns the active session and whether one exists.
func (h *Holder) Current() (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current, h.current.Valid()
}

// Token returns the current bearer token, empty when logged out.
// Satisfies the fetch client's token source.
func (h *Holder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Token
}

// OnLogout registers a callback invoked whenever the session is cleared.
// Cache owners register their Clear here: a cleared session invalidates
// every cached entity derived from it.
func (h *Holder) OnLogout(fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.onLogout = append(h.onLogout, fn)
	h.mu.Unlock()
}

// Logout clears the in-memory session, the persisted store, and fires
// the logout listeners. Also the handler for a surfaced AuthError.
func (h *Holder) Logout(ctx context.Context) error {
	h.mu.Lock()
	h.current = Session{}
	listeners := make([]func(), len(h.onLogout))
	copy(listeners, h.onLogout)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	h.logger.Info("session cleared")
	return h.store.Clear(ctx)
}
