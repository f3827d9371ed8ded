package domain

import "errors"

var (
	// ErrMissingInput signals a required request field the caller omitted.
	ErrMissingInput = errors.New("missing input")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrPatientNotFound signals a missing patient record.
	ErrPatientNotFound = errors.New("patient not found")
	// ErrNoLiteratureMatch signals that no relaxation tier produced any index hits.
	ErrNoLiteratureMatch = errors.New("no literature match")
	// ErrExternalUnavailable signals a transport-level failure of the literature
	// index, the extraction oracle, or the record store.
	ErrExternalUnavailable = errors.New("external service unavailable")
	// ErrMalformedSegmentation signals that the oracle's symptom segmentation was
	// not a plain string array. Unrecoverable for the call: there is nothing to embed.
	ErrMalformedSegmentation = errors.New("malformed symptom segmentation")
	// ErrVectorDimMismatch signals an embedding dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)
