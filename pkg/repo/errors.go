package repo

import "errors"

// Failure taxonomy of the repository engine. Validation failures abort the
// enclosing operation; only batch asset uploads collect them per file.
var (
	ErrInvalidSlug         = errors.New("depot: slug resolves to an empty or illegal identifier")
	ErrDirectoryNotAllowed = errors.New("depot: package type is not on the repository allow-list")
	ErrSlugExists          = errors.New("depot: a package already occupies this slug")
	ErrSlugNotFound        = errors.New("depot: no package exists for this slug")
	ErrInvalidArchiveType  = errors.New("depot: uploaded file is not an accepted archive type")
	ErrArchiveUnreadable   = errors.New("depot: stored archive failed to open as a valid container")
	ErrSidecarMissing      = errors.New("depot: archive does not contain the required sidecar file")
	ErrSidecarSave         = errors.New("depot: failed to persist the sidecar cache")
	ErrAssetValidation     = errors.New("depot: asset name is not in the accepted set")
	ErrAssetNotFound       = errors.New("depot: no stored asset matches the requested name")
	ErrMaliciousContent    = errors.New("depot: file content contains script markup")
	ErrUploadTransport     = errors.New("depot: upload transfer did not complete")
	ErrRestoreConflict     = errors.New("depot: a live package directory occupies the restore destination")
	ErrTrashNotFound       = errors.New("depot: no trash entry exists for this slug")
)
