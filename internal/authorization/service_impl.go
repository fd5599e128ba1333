package authorization

import (
	"context"
	"strings"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// defaultPolicies grant the baseline role capabilities. billing_admin
// inherits everything billing_user can do plus the privileged operations.
var defaultPolicies = [][]string{
	{RoleBillingUser, ObjectProductionLine, ActionLineTransition},
	{RoleBillingUser, ObjectProductionLine, ActionLineReject},
	{RoleBillingUser, ObjectInvoiceBatch, ActionBatchCreate},
	{RoleBillingUser, ObjectInvoiceBatch, ActionBatchUpdate},
	{RoleBillingUser, ObjectInvoiceBatch, ActionBatchSubmit},
	{RoleBillingUser, ObjectInvoiceBatch, ActionBatchPayment},
	{RoleBillingUser, ObjectInvoiceBatch, ActionBatchDispute},
	{RoleBillingAdmin, ObjectProductionLine, ActionLineOverrideRate},
	{RoleBillingAdmin, ObjectRateCard, ActionRateCardCreate},
	{RoleBillingAdmin, ObjectRateCard, ActionRateCardVersion},
}

var defaultGroupings = [][]string{
	{RoleBillingAdmin, RoleBillingUser},
}

// NewEnforcer builds a casbin enforcer backed by the casbin_rule table and
// seeds the default role policies.
func NewEnforcer(db *gorm.DB) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}

	m, err := casbinmodel.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}

	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}

	for _, policy := range defaultPolicies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return nil, err
		}
	}
	for _, grouping := range defaultGroupings {
		if _, err := enforcer.AddGroupingPolicy(grouping[0], grouping[1]); err != nil {
			return nil, err
		}
	}
	return enforcer, nil
}

// ServiceImpl enforces policies via casbin.
type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.Enforcer
}

// NewService builds the authorization service.
func NewService(db *gorm.DB, log *zap.Logger, enforcer *casbin.Enforcer) Service {
	return &ServiceImpl{
		db:       db,
		log:      log.Named("authorization.service"),
		enforcer: enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role, object, action string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return ErrInvalidRole
	}
	if strings.TrimSpace(object) == "" {
		return ErrInvalidObject
	}
	if strings.TrimSpace(action) == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(role, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}
