package model

// ItemStatus represents the lifecycle status of a download item
type ItemStatus string

const (
	// ItemStatusIdle means the item is queued but no pipeline has picked it up
	ItemStatusIdle ItemStatus = "Idle"

	// ItemStatusFetching means metadata is being resolved
	ItemStatusFetching ItemStatus = "Fetching"

	// ItemStatusDownloading means the audio stream is being transferred
	ItemStatusDownloading ItemStatus = "Downloading"

	// ItemStatusDone means the audio file was written successfully
	ItemStatusDone ItemStatus = "Done"

	// ItemStatusError means the last attempt failed
	ItemStatusError ItemStatus = "Error"
)

// String returns the string representation of ItemStatus
func (s ItemStatus) String() string {
	return string(s)
}

// IsActive returns true if a pipeline is currently driving the item
func (s ItemStatus) IsActive() bool {
	return s == ItemStatusFetching || s == ItemStatusDownloading
}

// IsFinished returns true if the item is in a terminal state (done or error)
func (s ItemStatus) IsFinished() bool {
	return s == ItemStatusDone || s == ItemStatusError
}

// CanRetry returns true if the item may re-enter the pipeline
func (s ItemStatus) CanRetry() bool {
	return s == ItemStatusError
}

// ErrorKind classifies why an item ended up in the error state
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindResolution ErrorKind = "resolution"
	ErrorKindTransfer   ErrorKind = "transfer"
	ErrorKindPath       ErrorKind = "path"
	ErrorKindCancelled  ErrorKind = "cancelled"
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	if k == ErrorKindNone {
		return "none"
	}
	return string(k)
}
