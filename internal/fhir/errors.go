package fhir

import "errors"

// Storage-level conditions. These never cross the REST boundary directly;
// the REST Engine remaps them to the HTTP error taxonomy in outcome.go.
var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceConflict = errors.New("resource already exists")
	ErrResourceDeleted  = errors.New("resource deleted")
	ErrInvalidResource  = errors.New("invalid resource")
)
