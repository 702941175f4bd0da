package api

import (
	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/ethpandaops/runkeeper/pkg/config"
	"golang.org/x/crypto/bcrypt"
)

// Authorizer decides whether a user may change a run, its membership or
// its results. run is the target run, or a run template carrying only the
// project when the run does not exist yet.
type Authorizer interface {
	MayMutateRun(user *store.User, run *store.Run) bool
}

// RoleAuthorizer lets admins and testers mutate any run.
type RoleAuthorizer struct{}

// Compile-time interface check.
var _ Authorizer = RoleAuthorizer{}

func (RoleAuthorizer) MayMutateRun(user *store.User, _ *store.Run) bool {
	if user == nil {
		return false
	}

	return user.Role == config.RoleAdmin || user.Role == config.RoleTester
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(password),
	) == nil
}
