package core

import "github.com/dkeye/voicepresence/internal/domain"

// IdentityProvider answers "who am I" synchronously.
type IdentityProvider interface {
	CurrentUser() (domain.Identity, bool)
}
