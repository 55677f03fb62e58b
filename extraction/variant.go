package extraction

import "fmt"

// Variant selects which extraction schema a deployment uses. The schema is
// fixed by the instruction text sent to the model, not negotiated at
// runtime, so the variant is read from configuration once at startup.
type Variant string

const (
	// VariantIdentity extracts the detailed identity fields: given name,
	// family name, nationality code and birth date.
	VariantIdentity Variant = "identity"

	// VariantSummary extracts only a nationality+age summary.
	VariantSummary Variant = "summary"
)

func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantIdentity, VariantSummary:
		return Variant(s), nil
	case "":
		return VariantIdentity, nil
	default:
		return "", fmt.Errorf("%q is not a valid extraction variant", s)
	}
}
