package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/legit-games/secrets-service/audit"
	"github.com/legit-games/secrets-service/cipher"
	"github.com/legit-games/secrets-service/models"
	"github.com/legit-games/secrets-service/store"
)

// ShadowState describes where a secret's staged rotation stands.
type ShadowState string

const (
	ShadowNone              ShadowState = "none"
	ShadowActive            ShadowState = "active"
	ShadowExpiredUnpromoted ShadowState = "expired_unpromoted"
)

// StateOf classifies a secret's shadow slot at the given instant.
func StateOf(sec *models.Secret, now time.Time) ShadowState {
	if sec.ShadowValue == nil {
		return ShadowNone
	}
	if sec.ShadowExpiresAt != nil && !sec.ShadowExpiresAt.After(now) {
		return ShadowExpiredUnpromoted
	}
	return ShadowActive
}

// NextRotation computes the run after `after` for a frequency. customDays is
// only consulted for the custom frequency.
func NextRotation(frequency models.RotationFrequency, customDays int, after time.Time) (time.Time, error) {
	after = after.UTC()
	switch frequency {
	case models.RotationDaily:
		return after.AddDate(0, 0, 1), nil
	case models.RotationWeekly:
		return after.AddDate(0, 0, 7), nil
	case models.RotationMonthly:
		return after.AddDate(0, 1, 0), nil
	case models.RotationQuarterly:
		return after.AddDate(0, 3, 0), nil
	case models.RotationCustom:
		if customDays <= 0 {
			return time.Time{}, fmt.Errorf("%w: custom frequency needs a positive day count", store.ErrInvalidState)
		}
		return after.AddDate(0, 0, customDays), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown frequency %q", store.ErrInvalidState, frequency)
}

// Rotator produces and applies replacement values. Regenerate swaps the live
// value immediately; Shadow stages the replacement beside the live value so
// consumers can migrate before Promote makes it current.
type Rotator struct {
	Secrets   *store.SecretStore
	Cipher    *cipher.Service
	Gen       *Generator
	Audit     *audit.Emitter
	ShadowTTL time.Duration
}

func NewRotator(secrets *store.SecretStore, cipherSvc *cipher.Service, emitter *audit.Emitter, shadowTTL time.Duration) *Rotator {
	return &Rotator{
		Secrets:   secrets,
		Cipher:    cipherSvc,
		Gen:       NewGenerator(DefaultValueLength),
		Audit:     emitter,
		ShadowTTL: shadowTTL,
	}
}

// Regenerate replaces the live value with a freshly generated one through a
// normal versioned write. The new plaintext is returned to the caller once;
// it is never stored outside the envelope.
func (r *Rotator) Regenerate(ctx context.Context, secretID, userID string) (*models.Secret, string, error) {
	plaintext, err := r.Gen.NewValue()
	if err != nil {
		return nil, "", err
	}
	enc, err := r.Cipher.EncryptToString(plaintext)
	if err != nil {
		return nil, "", err
	}
	sec, err := r.Secrets.UpdateValue(ctx, secretID, enc, "Rotated (regenerated)", userID)
	if err != nil {
		return nil, "", err
	}
	r.emit(userID, audit.ActionSecretRotate, sec, map[string]interface{}{"strategy": "regenerate", "version": sec.Version})
	return sec, plaintext, nil
}

// Shadow stages a generated replacement next to the live value. The live
// value and version are untouched until Promote.
func (r *Rotator) Shadow(ctx context.Context, secretID, userID string) (*models.Secret, string, error) {
	plaintext, err := r.Gen.NewValue()
	if err != nil {
		return nil, "", err
	}
	enc, err := r.Cipher.EncryptToString(plaintext)
	if err != nil {
		return nil, "", err
	}
	expires := time.Now().UTC().Add(r.ShadowTTL)
	if err := r.Secrets.UpdateShadow(ctx, secretID, &enc, &expires); err != nil {
		return nil, "", err
	}
	sec, err := r.Secrets.GetByID(ctx, secretID)
	if err != nil {
		return nil, "", err
	}
	r.emit(userID, audit.ActionSecretRotate, sec, map[string]interface{}{"strategy": "shadow", "shadowExpiresAt": expires})
	return sec, plaintext, nil
}

// Promote makes an active shadow value the live value via a versioned write
// and clears the shadow slot. An expired or absent shadow cannot be
// promoted.
func (r *Rotator) Promote(ctx context.Context, secretID, userID string) (*models.Secret, error) {
	sec, err := r.Secrets.GetByID(ctx, secretID)
	if err != nil {
		return nil, err
	}
	switch StateOf(sec, time.Now().UTC()) {
	case ShadowNone:
		return nil, fmt.Errorf("%w: no shadow value staged", store.ErrInvalidState)
	case ShadowExpiredUnpromoted:
		return nil, fmt.Errorf("%w: shadow value expired before promotion", store.ErrInvalidState)
	}
	updated, err := r.Secrets.UpdateValue(ctx, secretID, *sec.ShadowValue, "Promoted rotated value", userID)
	if err != nil {
		return nil, err
	}
	if err := r.Secrets.UpdateShadow(ctx, secretID, nil, nil); err != nil {
		return nil, err
	}
	updated.ShadowValue = nil
	updated.ShadowExpiresAt = nil
	r.emit(userID, audit.ActionSecretRotate, updated, map[string]interface{}{"strategy": "promote", "version": updated.Version})
	return updated, nil
}

func (r *Rotator) emit(userID, action string, sec *models.Secret, changes map[string]interface{}) {
	if r.Audit == nil {
		return
	}
	r.Audit.Emit(audit.Event{
		UserID:      userID,
		Action:      action,
		Entity:      "secret",
		EntityID:    sec.ID,
		WorkspaceID: sec.ProjectID,
		Changes:     changes,
	})
}
