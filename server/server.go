package server

import (
	"time"

	"gorm.io/gorm"

	"github.com/legit-games/secrets-service/audit"
	"github.com/legit-games/secrets-service/authz"
	"github.com/legit-games/secrets-service/cipher"
	"github.com/legit-games/secrets-service/email"
	"github.com/legit-games/secrets-service/rotation"
	"github.com/legit-games/secrets-service/store"
)

// Server holds the wired application: one gorm handle, the envelope cipher,
// the decision engine and the stores the handlers dispatch to.
type Server struct {
	Config *AppConfig
	DB     *gorm.DB

	Cipher *cipher.Service
	Matrix *authz.Matrix
	Engine *authz.Engine

	Secrets     *store.SecretStore
	Branches    *store.BranchStore
	Assignments *store.RoleAssignmentStore
	Requests    *store.AccessRequestStore
	Schedules   *store.RotationScheduleStore
	Settings    *store.SystemSettingsStore

	Rotator  *rotation.Rotator
	Audit    *audit.Emitter
	Notifier *email.Notifier

	jwtKey []byte
}

// Options carries the optional collaborators NewServer does not build
// itself.
type Options struct {
	GrantCache *store.GrantCache
	Emitter    *audit.Emitter
	Notifier   *email.Notifier
	Matrix     *authz.Matrix
	JITPolicy  *store.JITPolicy
}

// NewServer wires stores, engine and services onto one Server. The role
// matrix defaults to the built-in one and the audit emitter to a log sink
// when Options leaves them nil.
func NewServer(cfg *AppConfig, db *gorm.DB, cipherSvc *cipher.Service, opts Options) *Server {
	s := &Server{
		Config:    cfg,
		DB:        db,
		Cipher:    cipherSvc,
		Secrets:   store.NewSecretStore(db),
		Branches:  store.NewBranchStore(db),
		Schedules: store.NewRotationScheduleStore(db),
		Settings:  store.NewSystemSettingsStore(db),
		jwtKey:    cfg.JWTSigningKey(),
	}
	s.Assignments = store.NewRoleAssignmentStore(db)

	policy := store.JITPolicy{MaxDurationMinutes: store.DefaultJITMaxDurationMinutes}
	if opts.JITPolicy != nil {
		policy = *opts.JITPolicy
	}
	s.Requests = store.NewAccessRequestStore(db, policy)
	if opts.GrantCache != nil {
		s.Requests = s.Requests.WithGrantCache(opts.GrantCache)
	}

	s.Matrix = opts.Matrix
	if s.Matrix == nil {
		s.Matrix = authz.DefaultMatrix()
	}
	s.Engine = authz.NewEngine(s.Matrix, s.Assignments, s.Requests)

	s.Audit = opts.Emitter
	if s.Audit == nil {
		s.Audit = audit.NewEmitter(nil)
	}
	s.Notifier = opts.Notifier
	if s.Notifier == nil {
		s.Notifier = email.NewNotifier(email.NewNoOpSender(), "Secrets Service")
	}

	s.Rotator = rotation.NewRotator(s.Secrets, cipherSvc, s.Audit, time.Duration(store.DefaultShadowTTLHours)*time.Hour)
	return s
}

func (s *Server) emit(userID, action, entity, entityID, workspaceID string, changes map[string]interface{}) {
	if s.Audit == nil {
		return
	}
	s.Audit.Emit(audit.Event{
		UserID:      userID,
		Action:      action,
		Entity:      entity,
		EntityID:    entityID,
		WorkspaceID: workspaceID,
		Changes:     changes,
	})
}
