package remoteexecutor

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CredentialsRefresher reobtains authentication credentials after the
// remote execution service has rejected a call for carrying expired or
// otherwise invalid ones. A successful Refresh causes the rejected
// call to be repeated once, outside of the regular retry budget.
type CredentialsRefresher interface {
	Refresh(ctx context.Context) error
}

type noopCredentialsRefresher struct{}

func (noopCredentialsRefresher) Refresh(ctx context.Context) error {
	return status.Error(codes.Unauthenticated, "No credentials refresher configured")
}

// NoopCredentialsRefresher is to be used when credentials cannot be
// refreshed from within this process. It fails every refresh request,
// causing the original authentication error to propagate to the
// caller.
var NoopCredentialsRefresher CredentialsRefresher = noopCredentialsRefresher{}
