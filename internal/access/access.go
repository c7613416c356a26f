// Package access implements the capability table gating administrative
// operations. Roles are granted per account; there is no single owner.
package access

import (
	"fmt"

	"github.com/google/uuid"

	"PegVault/internal/errs"
)

type Role int

const (
	// RoleGovernor may change protocol parameters (thresholds, dev mode)
	// and unpause.
	RoleGovernor Role = iota

	// RoleEmergency may pause the protocol.
	RoleEmergency
)

func (r Role) String() string {
	switch r {
	case RoleGovernor:
		return "GOVERNOR"
	case RoleEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

// Controller is the capability table: role -> set of accounts.
type Controller struct {
	grants map[Role]map[uuid.UUID]struct{}
}

func NewController() *Controller {
	return &Controller{
		grants: make(map[Role]map[uuid.UUID]struct{}),
	}
}

func (c *Controller) Grant(role Role, account uuid.UUID) {
	if c.grants[role] == nil {
		c.grants[role] = make(map[uuid.UUID]struct{})
	}
	c.grants[role][account] = struct{}{}
}

func (c *Controller) Revoke(role Role, account uuid.UUID) {
	delete(c.grants[role], account)
}

func (c *Controller) HasRole(role Role, account uuid.UUID) bool {
	_, ok := c.grants[role][account]
	return ok
}

// Require returns ErrNotAuthorized unless the account holds the role.
func (c *Controller) Require(role Role, account uuid.UUID) error {
	if !c.HasRole(role, account) {
		return fmt.Errorf("account %s lacks role %s: %w", account, role, errs.ErrNotAuthorized)
	}
	return nil
}
