package credential

import "errors"

var (
	// ErrFetch wraps every failure reported by a Source.
	ErrFetch = errors.New("credential fetch failed")
	// ErrDiscarded is returned by Fetch once the session dropped the provisioner.
	ErrDiscarded = errors.New("credential fetch discarded")
	// ErrNotFetched is returned by Credential before a successful fetch.
	ErrNotFetched = errors.New("credential not fetched")
)
