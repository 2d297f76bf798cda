package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/snapbuy/snapbuy/internal/locale"
	"github.com/snapbuy/snapbuy/internal/logger"
)

var (
	// ErrStorage marks failures of the underlying store. Callers must report
	// them instead of falling back to a default language.
	ErrStorage = errors.New("preference storage failure")

	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// LanguageStore persists one language code per user id.
// Implementations must be safe for concurrent use.
type LanguageStore interface {
	// GetLanguage returns found=false without error when nothing is stored.
	GetLanguage(ctx context.Context, userID int64) (lang string, found bool, err error)
	// SetLanguage upserts the mapping and returns once it is persisted.
	SetLanguage(ctx context.Context, userID int64, lang string) error
	// EnsureLanguage stores lang only if the user has no row yet.
	EnsureLanguage(ctx context.Context, userID int64, lang string) error
	Close() error
}

// Preferences applies the default language and the supported-language
// constraint on top of a LanguageStore.
type Preferences struct {
	store       LanguageStore
	defaultLang string
}

func NewPreferences(store LanguageStore, defaultLang string) (*Preferences, error) {
	if store == nil {
		return nil, fmt.Errorf("language store is required")
	}
	lang, ok := locale.Normalize(defaultLang)
	if !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnsupportedLanguage, defaultLang)
	}
	return &Preferences{store: store, defaultLang: lang}, nil
}

func (p *Preferences) Default() string {
	return p.defaultLang
}

// Get returns the stored language or the default when none is recorded.
func (p *Preferences) Get(ctx context.Context, userID int64) (string, error) {
	lang, _, err := p.get(ctx, userID)
	return lang, err
}

// Resolve is Get for content messages: a user seen for the first time gets
// the default language recorded. A failed insert is logged only, since the
// default it returns is already the right answer.
func (p *Preferences) Resolve(ctx context.Context, userID int64) (string, error) {
	lang, found, err := p.get(ctx, userID)
	if err != nil || found {
		return lang, err
	}

	if err := p.store.EnsureLanguage(ctx, userID, lang); err != nil {
		logger.Warn("Failed to record default language", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	return lang, nil
}

// Set records lang for the user. Last write wins.
func (p *Preferences) Set(ctx context.Context, userID int64, lang string) error {
	code, ok := locale.Normalize(lang)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}

	if err := p.store.SetLanguage(ctx, userID, code); err != nil {
		return fmt.Errorf("%w: set language for user %d: %w", ErrStorage, userID, err)
	}
	return nil
}

// Ping checks the backend when it supports it.
func (p *Preferences) Ping(ctx context.Context) error {
	if pinger, ok := p.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (p *Preferences) Close() error {
	return p.store.Close()
}

func (p *Preferences) get(ctx context.Context, userID int64) (string, bool, error) {
	lang, found, err := p.store.GetLanguage(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("%w: get language for user %d: %w", ErrStorage, userID, err)
	}
	if !found {
		return p.defaultLang, false, nil
	}
	if !locale.IsSupported(lang) {
		// A code dropped from the catalogue; treat the row as absent.
		logger.Warn("Stored language no longer supported", map[string]interface{}{
			"user_id":  userID,
			"language": lang,
		})
		return p.defaultLang, true, nil
	}
	return lang, true, nil
}
