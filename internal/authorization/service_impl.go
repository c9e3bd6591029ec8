package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if _, err := enforcer.AddGroupingPolicy(SystemActor, "role:system"); err != nil {
		return nil, err
	}
	// Hosts book other hosts' listings as guests.
	if _, err := enforcer.AddGroupingPolicy("role:host", "role:guest"); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// UserSubject renders the casbin subject for a user id.
func UserSubject(id snowflake.ID) string {
	return fmt.Sprintf("user:%s", id.String())
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor, object, action string, owners ...string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	if actor != SystemActor {
		roleName, err := s.resolveRole(ctx, actor)
		if err != nil {
			s.logDenied(actor, object, action, err)
			return err
		}
		if err := s.ensureGrouping(actor, roleName); err != nil {
			return err
		}
	}

	if len(owners) == 0 {
		owners = []string{""}
	}
	for _, owner := range owners {
		allowed, err := s.enforcer.Enforce(actor, object, action, strings.TrimSpace(owner))
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}

	s.logDenied(actor, object, action, ErrForbidden)
	return ErrForbidden
}

func (s *ServiceImpl) resolveRole(ctx context.Context, actor string) (string, error) {
	if !strings.HasPrefix(actor, "user:") {
		return "", ErrInvalidActor
	}
	userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
	if err != nil || userID == 0 {
		return "", ErrInvalidActor
	}

	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role FROM users WHERE id = ? LIMIT 1`,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.ToLower(strings.TrimSpace(row.Role))
	if role == "" {
		return "", ErrForbidden
	}
	return fmt.Sprintf("role:%s", role), nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) logDenied(actor, object, action string, err error) {
	s.log.Info("authorization.denied",
		zap.String("actor", actor),
		zap.String("object", object),
		zap.String("action", action),
		zap.Error(err),
	)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Guests see their own bookings and deposits.
		{"role:guest", ObjectBooking, ActionBookingView, ScopeOwn},
		{"role:guest", ObjectBooking, ActionBookingCancel, ScopeOwn},
		{"role:guest", ObjectBooking, ActionBookingPay, ScopeOwn},
		{"role:guest", ObjectDeposit, ActionDepositView, ScopeOwn},

		// Hosts manage what they own.
		{"role:host", ObjectBooking, ActionBookingView, ScopeOwn},
		{"role:host", ObjectDeposit, ActionDepositView, ScopeOwn},
		{"role:host", ObjectDeposit, ActionDepositCapture, ScopeOwn},
		{"role:host", ObjectDeposit, ActionDepositRelease, ScopeOwn},
		{"role:host", ObjectListing, ActionListingUpdate, ScopeOwn},
		{"role:host", ObjectWallet, ActionWalletView, ScopeOwn},

		// Admin permissions
		{"role:admin", ObjectBooking, ActionBookingView, ScopeAny},
		{"role:admin", ObjectBooking, ActionBookingCancel, ScopeAny},
		{"role:admin", ObjectDeposit, ActionDepositView, ScopeAny},
		{"role:admin", ObjectDeposit, ActionDepositCapture, ScopeAny},
		{"role:admin", ObjectDeposit, ActionDepositRelease, ScopeAny},
		{"role:admin", ObjectListing, ActionListingUpdate, ScopeAny},
		{"role:admin", ObjectWallet, ActionWalletView, ScopeAny},

		// System permissions (sweeper, webhooks)
		{"role:system", ObjectDeposit, ActionDepositRelease, ScopeAny},
		{"role:system", ObjectDeposit, ActionDepositView, ScopeAny},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
