package models

// NotFound is the display value used when the inference service could not
// read a field from the document. Field-level absence is not an error; the
// attempt still succeeds and the missing fields render as this sentinel.
const NotFound = "No encontrado"

// IdentityDocumentData holds the detailed identity fields extracted from a
// document photo. String fields that the model reported as null or omitted
// are set to the NotFound sentinel.
type IdentityDocumentData struct {
	GivenName       string `json:"given_name"`
	FamilyName      string `json:"family_name"`
	NationalityCode string `json:"nationality_code"` // ISO 3166-1 alpha-2
	BirthDate       string `json:"birth_date"`       // YYYY-MM-DD
}

// DocumentSummaryData holds the nationality+age summary variant. Missing
// fields stay nil rather than degrading to a display string.
type DocumentSummaryData struct {
	Nationality *string `json:"nationality"`
	Age         *int    `json:"age"`
}

// ExtractionResult is the tagged union over the two schema variants.
// Exactly one of the payload pointers is set, matching the variant the
// deployment is configured for.
type ExtractionResult struct {
	Identity *IdentityDocumentData `json:"identity,omitempty"`
	Summary  *DocumentSummaryData  `json:"summary,omitempty"`
}
