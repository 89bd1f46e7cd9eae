package database

import (
	"fmt"

	"lightoflife/config"

	"github.com/casbin/casbin/v2"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

const adminRole = "admin"

// Casbin builds the enforcer guarding /v1/admin. Policies live in the same
// database as everything else.
func Casbin(db *gorm.DB) *casbin.Enforcer {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize casbin adapter: %v", err))
	}

	e, err := casbin.NewEnforcer(config.Default("CASBIN_MODEL", "config/restful_rbac_model.conf"), adapter)
	if err != nil {
		panic(fmt.Sprintf("failed to create casbin enforcer: %v", err))
	}

	// Add default policy
	if hasPolicy, _ := e.HasPolicy(adminRole, "/v1/admin*", "GET"); !hasPolicy {
		e.AddPolicy(adminRole, "/v1/admin*", "GET")
	}

	if err := e.LoadPolicy(); err != nil {
		panic(fmt.Sprintf("failed to load casbin policy: %v", err))
	}
	return e
}

// GrantAdmin assigns the admin role to a user id.
func GrantAdmin(e *casbin.Enforcer, userID uint) error {
	_, err := e.AddGroupingPolicy(fmt.Sprint(userID), adminRole)
	return err
}
