package extraction

// The instruction texts are constants: identical across invocations so the
// prompting is reproducible. Each one names the exact fields, demands a
// single JSON object with no surrounding prose, states the field-level
// formatting rules and shows a worked example of the expected shape.

const identityInstruction = `You are given a photo of an identity document.
Extract the following fields from it:
- "nombre": the given name(s) of the holder
- "apellido": the family name(s) of the holder
- "nacionalidad": the holder's nationality as an ISO 3166-1 alpha-2 country code
- "fechaNacimiento": the holder's date of birth in ISO 8601 format (YYYY-MM-DD)

Respond with a single JSON object and nothing else: no explanations, no
Markdown, no text before or after the object. If a field cannot be read
from the document, set it to null.

Example of the expected output:
{"nombre":"Juan","apellido":"Perez","nacionalidad":"AR","fechaNacimiento":"1990-05-15"}`

const summaryInstruction = `You are given a photo of an identity document.
Extract the following fields from it:
- "nationality": the holder's nationality as an ISO 3166-1 alpha-2 country code
- "age": the holder's current age in full years, as a number

Respond with a single JSON object and nothing else: no explanations, no
Markdown, no text before or after the object. If a field cannot be read
from the document, set it to null.

Example of the expected output:
{"nationality":"AR","age":35}`

// InstructionFor returns the fixed instruction text for the given variant.
func InstructionFor(variant Variant) string {
	if variant == VariantSummary {
		return summaryInstruction
	}
	return identityInstruction
}
