// Package credential defines the credential records node executors
// authenticate with and the Store capability that guards them. The engine
// holds only credential ids; secret material is resolved lazily when an
// executor asks for it and is never written to the execution log.
package credential

import (
	"context"
	"errors"
)

type (
	// Credential is the decrypted form of a stored credential, as handed to
	// an executor. Data keys depend on Type: api-key credentials carry
	// "apiKey" and optionally "headerName"/"queryParam"; basic carries
	// "username"/"password"; bearer carries "token"; oauth2 carries
	// "accessToken"; custom-header carries "headerName"/"headerValue".
	Credential struct {
		// ID uniquely identifies the credential.
		ID string
		// Name is the user-visible label.
		Name string
		// Type selects how executors apply the credential.
		Type Type
		// Data holds the decrypted secret fields. Never log it.
		Data map[string]string
	}

	// Type enumerates the supported credential kinds.
	Type string

	// Store persists credentials encrypted at rest and decrypts on demand.
	// Reads are safe for concurrent use; writes are serialised internally.
	Store interface {
		// Upsert stores a credential, encrypting its secret data.
		Upsert(ctx context.Context, c Credential) error
		// Resolve returns the decrypted credential for the given id.
		// Returns ErrNotFound when absent and ErrDecrypt when the stored
		// blob cannot be decrypted.
		Resolve(ctx context.Context, id string) (Credential, error)
	}

	// Resolver is the read-only subset of Store handed to executors through
	// the execution context.
	Resolver interface {
		Resolve(ctx context.Context, id string) (Credential, error)
	}
)

// Supported credential types.
const (
	TypeAPIKey       Type = "api-key"
	TypeBasic        Type = "basic"
	TypeBearer       Type = "bearer"
	TypeOAuth2       Type = "oauth2"
	TypeCustomHeader Type = "custom-header"
)

var (
	// ErrNotFound indicates the requested credential does not exist.
	ErrNotFound = errors.New("credential not found")
	// ErrDecrypt indicates the stored secret could not be decrypted.
	// Non-retryable; the requesting node fails.
	ErrDecrypt = errors.New("credential decryption failed")
)
