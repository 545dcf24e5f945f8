package backup

import (
	"errors"
	"fmt"

	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

// ErrMissingCredential is returned before any remote call when no API token
// was supplied.
var ErrMissingCredential = shared.MarkKind(errors.New("missing api token"), shared.KindConfiguration)

// ErrPassInProgress is returned by a manual backup while another invocation
// holds the pass lock.
var ErrPassInProgress = shared.MarkKind(errors.New("another backup pass is in progress"), shared.KindConflict)

// RemotePrimaryNotFoundError reports that no listed environment is flagged
// as primary.
type RemotePrimaryNotFoundError struct {
	Listed int
}

func (e *RemotePrimaryNotFoundError) Error() string {
	return fmt.Sprintf("no primary environment found among %d environments", e.Listed)
}

func (e *RemotePrimaryNotFoundError) Unwrap() error { return shared.ErrRemoteState }

// CadenceNotEnabledError reports a manual request for a cadence that is not
// part of the schedule configuration.
type CadenceNotEnabledError struct {
	Cadence schedule.Cadence
	Enabled []schedule.Cadence
}

func (e *CadenceNotEnabledError) Error() string {
	return fmt.Sprintf("cadence %q is not enabled (enabled: %v)", e.Cadence, e.Enabled)
}

func (e *CadenceNotEnabledError) Unwrap() error { return shared.ErrCadenceNotEnabled }
