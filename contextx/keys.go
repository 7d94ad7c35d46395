// Package contextx carries per-request values (authenticated actor, request
// id) through a context and renders them as log attributes.
package contextx

type contextKey int

const (
	actorKey contextKey = iota
	requestIDKey
)
