package lobby

import "errors"

var (
	errMissingAuth  = errors.New("lobby: auth collaborator required")
	errMissingStore = errors.New("lobby: store collaborator required")
	errMissingFeed  = errors.New("lobby: feed collaborator required")
	errMissingCache = errors.New("lobby: message cache required")

	// ErrSessionTimeout reports that session resolution did not finish in time.
	ErrSessionTimeout = errors.New("lobby: session resolution timed out")
	// ErrSessionResolve reports that the auth collaborator could not resolve a session.
	ErrSessionResolve = errors.New("lobby: session resolution failed")
	// ErrProviderNotEnabled reports a sign-in provider the backend has not configured.
	ErrProviderNotEnabled = errors.New("lobby: sign-in provider is not enabled")
	// ErrSignInFailed reports any other sign-in failure.
	ErrSignInFailed = errors.New("lobby: sign-in failed")

	// ErrProfileRead reports a failed profile lookup; messaging stays disabled.
	ErrProfileRead = errors.New("lobby: profile read failed")
	// ErrProfileCreate reports that the identity is signed in but its profile could not be created.
	ErrProfileCreate = errors.New("lobby: signed in but profile creation failed")

	// ErrUnknownRoom reports a room id absent from the directory.
	ErrUnknownRoom = errors.New("lobby: unknown room")
	// ErrUnknownPeer reports a direct-message peer absent from the candidate list.
	ErrUnknownPeer = errors.New("lobby: unknown direct message peer")
	// ErrDirectMessagesDisabled reports that the backend has no direct-message support.
	ErrDirectMessagesDisabled = errors.New("lobby: direct messages are not available")
	// ErrHistoryLoad reports a failed room history fetch.
	ErrHistoryLoad = errors.New("lobby: history load failed")

	// ErrNotSignedIn reports a send without an identity.
	ErrNotSignedIn = errors.New("lobby: not signed in")
	// ErrProfileMissing reports a send before the profile resolved.
	ErrProfileMissing = errors.New("lobby: profile not resolved")
	// ErrNoActiveRoom reports a send with no room selected.
	ErrNoActiveRoom = errors.New("lobby: no active room")
	// ErrEmptyMessage reports a send whose content is blank after trimming.
	ErrEmptyMessage = errors.New("lobby: message is empty")
	// ErrSendInFlight reports a send ignored because another is pending.
	ErrSendInFlight = errors.New("lobby: a send is already in flight")
	// ErrSendFailed reports a rejected insert.
	ErrSendFailed = errors.New("lobby: send failed")
)
