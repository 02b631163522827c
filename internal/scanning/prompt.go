package scanning

import "strings"

// transcriptionPrompt asks vision models for a plain transcription so the
// same field parser runs over every engine's output.
const transcriptionPrompt = `Transcribe all text on this receipt exactly as printed.

Rules:
- Keep the original line breaks, one printed line per output line
- Keep prices, dates and totals exactly as shown, including the $ sign
- Do not summarize, translate, correct or reformat anything
- Do not add commentary, headings or markdown; output only the receipt text
- If the image contains no readable text, output nothing`

// stripFences removes a markdown code fence some models wrap output in
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 && !strings.Contains(text[:i], " ") {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
