// Package errors provides structured error handling for sift.
//
// Error codes are the stable, wire-visible strings from the specification's
// external-interfaces contract (§6/§7): clients match on Code, never on
// Message, so these values must never change once shipped.
package errors

// Category classifies an error for internal routing and logging.
type Category string

const (
	// CategoryValidation indicates a malformed or disallowed request.
	CategoryValidation Category = "VALIDATION"
	// CategoryState indicates the request conflicts with current server state.
	CategoryState Category = "STATE"
	// CategoryCapacity indicates a resource or quota limit was hit.
	CategoryCapacity Category = "CAPACITY"
	// CategoryExecution indicates a failure while processing an enqueued task.
	CategoryExecution Category = "EXECUTION"
	// CategorySystem indicates an unexpected internal failure.
	CategorySystem Category = "SYSTEM"
)

// Severity grades how a caller or operator should react to an error.
type Severity string

const (
	// SeverityFatal means the enclosing task/batch cannot continue.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed but the scheduler continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning means a degraded but completed operation.
	SeverityWarning Severity = "WARNING"
)

// Stable error codes, grouped by spec.md §7 category.
const (
	// Validation
	CodeInvalidIndexUID             = "invalid_index_uid"
	CodeMissingDocumentID            = "missing_document_id"
	CodeInvalidDocumentID            = "invalid_document_id"
	CodeInvalidDocumentFilter        = "invalid_document_filter"
	CodeMissingDocumentFilter        = "missing_document_filter"
	CodeInvalidDocumentLimit         = "invalid_document_limit"
	CodeInvalidDocumentOffset        = "invalid_document_offset"
	CodeInvalidDocumentFields        = "invalid_document_fields"
	CodeInvalidDocumentRetrieveVecs  = "invalid_document_retrieve_vectors"
	CodeInvalidContentType           = "invalid_content_type"
	CodeMissingContentType           = "missing_content_type"
	CodeInvalidCSVDelimiter          = "invalid_document_csv_delimiter"
	CodeInvalidSettings              = "invalid_settings"
	CodeInvalidTaskFilter            = "invalid_task_filter"
	CodeMissingTaskFilters           = "missing_task_filters"
	CodeInvalidSearchQuery           = "invalid_search_query"
	CodeInvalidSearchFilter          = "invalid_search_filter"

	// State
	CodeIndexNotFound          = "index_not_found"
	CodeIndexAlreadyExists     = "index_already_exists"
	CodePrimaryKeyCannotChange = "primary_key_cannot_be_changed"
	CodeTaskNotFound           = "task_not_found"

	// Capacity
	CodePayloadTooLarge   = "payload_too_large"
	CodeDatabaseSizeLimit = "database_size_limit_reached"

	// Execution
	CodeMalformedPayload    = "malformed_payload"
	CodeDocumentFieldsLimit = "document_fields_limit_reached"
	CodeInvalidGeoField     = "invalid_geo_field"
	CodePrimaryKeyInference = "primary_key_inference_failed"
	CodeFeatureNotEnabled   = "feature_not_enabled"

	// System
	CodeInternal           = "internal"
	CodeCorruptedTaskQueue = "corrupted_task_queue"
	CodeAbortedTask        = "aborted_task"
)

// categoryFromCode classifies a code using the groupings above. Codes not
// found here default to CategorySystem, matching the teacher's "unknown
// falls to internal" convention.
func categoryFromCode(code string) Category {
	switch code {
	case CodeInvalidIndexUID, CodeMissingDocumentID, CodeInvalidDocumentID,
		CodeInvalidDocumentFilter, CodeMissingDocumentFilter, CodeInvalidDocumentLimit,
		CodeInvalidDocumentOffset, CodeInvalidDocumentFields, CodeInvalidDocumentRetrieveVecs,
		CodeInvalidContentType, CodeMissingContentType, CodeInvalidCSVDelimiter,
		CodeInvalidSettings, CodeInvalidTaskFilter, CodeMissingTaskFilters,
		CodeInvalidSearchQuery, CodeInvalidSearchFilter:
		return CategoryValidation
	case CodeIndexNotFound, CodeIndexAlreadyExists, CodePrimaryKeyCannotChange, CodeTaskNotFound:
		return CategoryState
	case CodePayloadTooLarge, CodeDatabaseSizeLimit:
		return CategoryCapacity
	case CodeMalformedPayload, CodeDocumentFieldsLimit, CodeInvalidGeoField,
		CodePrimaryKeyInference, CodeFeatureNotEnabled:
		return CategoryExecution
	default:
		return CategorySystem
	}
}

// severityFromCode assigns a severity for operator-facing logging. System
// errors are fatal to the batch that raised them; everything else merely
// fails the task/request that raised it.
func severityFromCode(code string) Severity {
	if categoryFromCode(code) == CategorySystem {
		return SeverityFatal
	}
	return SeverityError
}

// retryableCodes records which codes are retried automatically. Every code
// listed maps to false and unlisted codes default to false, so New never
// marks an error as retryable.
var retryableCodes = map[string]bool{
	CodeDatabaseSizeLimit: false,
	CodeInternal:          false,
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
