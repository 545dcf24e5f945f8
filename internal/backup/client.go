package backup

import (
	"context"
	"time"
)

// Environment is one environment as reported by the remote API.
type Environment struct {
	ID        string
	Primary   bool
	CreatedAt time.Time
}

// EnvironmentClient is the subset of the remote API the engine needs.
type EnvironmentClient interface {
	ListEnvironments(ctx context.Context) ([]Environment, error)
	// ForkEnvironment copies sourceID into a new environment named newID.
	ForkEnvironment(ctx context.Context, sourceID, newID string) error
	DestroyEnvironment(ctx context.Context, id string) error
}

// ClientFactory builds a client authenticated with apiToken.
type ClientFactory func(apiToken string) EnvironmentClient

// Credentials identify the caller of a pass. The API token also seeds the
// distributed slot of the deployment.
type Credentials struct {
	APIToken string
}

func (c Credentials) validate() error {
	if c.APIToken == "" {
		return ErrMissingCredential
	}
	return nil
}
