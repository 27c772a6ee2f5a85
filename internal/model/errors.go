package model

import "errors"

var (
	// ErrArchiveCreationFailed is returned when dumping or writing an archive fails.
	ErrArchiveCreationFailed = errors.New("archive creation failed")

	// ErrInvalidPruneValue is returned when a retention value does not fit its policy.
	ErrInvalidPruneValue = errors.New("invalid prune value")

	// ErrHashMismatch is returned when an archive no longer matches its fingerprint.
	ErrHashMismatch = errors.New("archive hash mismatch")

	// ErrArchiveNotFound is returned for an unknown archive id.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrUnableToDeleteArchive is reported when an archive file cannot be unlinked.
	ErrUnableToDeleteArchive = errors.New("unable to delete archive file")

	// ErrUnknownCollection is returned when a label has no collection behind it.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrObjectNotFound is returned for an unregistered backup object.
	ErrObjectNotFound = errors.New("backup object not found")

	// ErrObjectExists is returned when registering a label twice.
	ErrObjectExists = errors.New("backup object already exists")

	// ErrIO wraps filesystem failures.
	ErrIO = errors.New("i/o error")
)
