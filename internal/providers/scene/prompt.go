package scene

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// BuildPrompt embeds the scenario in the fixed composition instruction.
func BuildPrompt(scenario string) string {
	scenario = NormalizeText(scenario)
	parts := []string{
		"Create one photorealistic image that places the two people from the reference photos together in the same scene.",
		"Scenario: " + scenario + ".",
		"Place the person from the first reference image on the left and the person from the second reference image on the right.",
		"Preserve each person's facial identity exactly: face shape, eyes, nose, mouth, skin tone, hair and age must match their reference.",
		"Do not merge, swap or stylize the faces.",
		"Landscape 16:9 framing, natural lighting, consistent perspective and scale, both faces clearly visible.",
	}
	return strings.Join(parts, " ")
}

// NormalizeText applies NFC normalization and collapses whitespace so the
// prompt is stable regardless of how the text was typed.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".")
}
