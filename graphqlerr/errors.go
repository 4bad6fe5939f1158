// Package graphqlerr implements the error taxonomy of SPEC_FULL.md §7:
// stable error codes surfaced to the client, each carrying the
// extensions a federation client needs to locate the failure
// (subgraph_name, affected_path).
//
// Grounded on graphql/errors.go's SanitizedError/SafeError/ClientError
// pattern (a sanitized client-facing message kept separate from the
// internal one, plus a stable Code() accessor), and on
// github.com/samsarahq/go/oops for internal wrap-with-context chains,
// the teacher's own error-wrapping idiom used throughout federation/*.go.
package graphqlerr

import "fmt"

// Code is one of the stable error-code strings from spec.md §7. Codes
// are part of the wire contract, not Go identifiers, so they are kept
// as a string type rather than an int enum.
type Code string

const (
	CodeQueryPlanningFailed             Code = "QUERY_PLANNING_FAILED"
	CodeSubgraphRequestFailure          Code = "SUBGRAPH_REQUEST_FAILURE"
	CodeSubgraphResponseDeserialization Code = "SUBGRAPH_RESPONSE_DESERIALIZATION_FAILED"
	CodeUnauthorizedFieldOrType         Code = "UNAUTHORIZED_FIELD_OR_TYPE"
	CodePersistedDocumentNotFound       Code = "PERSISTED_DOCUMENT_NOT_FOUND"
	CodePersistedDocumentKeyNotFound    Code = "PERSISTED_DOCUMENT_KEY_NOT_FOUND"
	CodePersistedDocumentRequired       Code = "PERSISTED_DOCUMENT_REQUIRED"
	CodeFailedToFetchFromCDN            Code = "FAILED_TO_FETCH_FROM_CDN"
	CodeServiceUnavailable              Code = "SERVICE_UNAVAILABLE"
)

// Error is a single client-visible GraphQL error: a message, a stable
// code, the response path it is bound to (if any), and extension
// fields beyond code/path.
type Error struct {
	Message      string
	Code         Code
	Path         []interface{} // mixed string (field) / int (list index) segments
	SubgraphName string        // non-empty when produced by a fetch
	Extensions   map[string]interface{}
}

func (e *Error) Error() string {
	if e.SubgraphName != "" {
		return fmt.Sprintf("%s: %s (subgraph %s)", e.Code, e.Message, e.SubgraphName)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithExtensions returns e's extensions merged with code/path/subgraph,
// ready for the {data, errors, extensions} envelope.
func (e *Error) WithExtensions() map[string]interface{} {
	ext := map[string]interface{}{"code": string(e.Code)}
	for k, v := range e.Extensions {
		ext[k] = v
	}
	if e.SubgraphName != "" {
		ext["subgraph_name"] = e.SubgraphName
	}
	if e.Path != nil {
		ext["affected_path"] = e.Path
	}
	return ext
}

// PlanningFailed builds a QUERY_PLANNING_FAILED error; planning
// failures are fatal for the whole request, so no path is attached.
func PlanningFailed(msg string) *Error {
	return &Error{Message: msg, Code: CodeQueryPlanningFailed}
}

// SubgraphRequestFailure builds a SUBGRAPH_REQUEST_FAILURE error bound
// to the fetch's subgraph and response path.
func SubgraphRequestFailure(subgraph string, path []interface{}, msg string) *Error {
	return &Error{Message: msg, Code: CodeSubgraphRequestFailure, SubgraphName: subgraph, Path: path}
}

// SubgraphResponseDeserializationFailed builds a
// SUBGRAPH_RESPONSE_DESERIALIZATION_FAILED error bound to the fetch's
// subgraph and response path.
func SubgraphResponseDeserializationFailed(subgraph string, path []interface{}, msg string) *Error {
	return &Error{Message: msg, Code: CodeSubgraphResponseDeserialization, SubgraphName: subgraph, Path: path}
}

// Unauthorized builds an UNAUTHORIZED_FIELD_OR_TYPE error bound to a
// denied response path.
func Unauthorized(path []interface{}) *Error {
	return &Error{Message: "not authorized", Code: CodeUnauthorizedFieldOrType, Path: path}
}

// ServiceUnavailable builds a SERVICE_UNAVAILABLE error, fatal for the
// whole request.
func ServiceUnavailable(msg string) *Error {
	return &Error{Message: msg, Code: CodeServiceUnavailable}
}

// PersistedDocumentNotFound builds a PERSISTED_DOCUMENT_NOT_FOUND
// error: the CDN was reachable but has no document under id.
func PersistedDocumentNotFound(id string) *Error {
	return &Error{Message: fmt.Sprintf("no persisted document for id %q", id), Code: CodePersistedDocumentNotFound}
}

// PersistedDocumentKeyNotFound builds a PERSISTED_DOCUMENT_KEY_NOT_FOUND
// error: the request carried neither a documentId nor a query.
func PersistedDocumentKeyNotFound() *Error {
	return &Error{Message: "request extensions carry no resolvable persisted document key", Code: CodePersistedDocumentKeyNotFound}
}

// PersistedDocumentRequired builds a PERSISTED_DOCUMENT_REQUIRED error:
// the deployment requires every request to resolve through a persisted
// document and this one carried a raw query instead.
func PersistedDocumentRequired() *Error {
	return &Error{Message: "this deployment only accepts persisted documents", Code: CodePersistedDocumentRequired}
}

// FailedToFetchFromCDN builds a FAILED_TO_FETCH_FROM_CDN error: the
// persisted-document CDN itself was unreachable or returned an error.
func FailedToFetchFromCDN(msg string) *Error {
	return &Error{Message: msg, Code: CodeFailedToFetchFromCDN}
}

// List is an ordered, append-safe collection of client errors.
type List []*Error

// Envelope is the conventional {data, errors, extensions} response
// wrapper produced by projection.
type Envelope struct {
	Data       interface{}            `json:"data"`
	Errors     []EnvelopeError        `json:"errors,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// EnvelopeError is one wire-format error entry.
type EnvelopeError struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// ToEnvelopeErrors renders a List in wire format.
func (l List) ToEnvelopeErrors() []EnvelopeError {
	out := make([]EnvelopeError, len(l))
	for i, e := range l {
		out[i] = EnvelopeError{Message: e.Message, Path: e.Path, Extensions: e.WithExtensions()}
	}
	return out
}
