package analysis

import (
	"fmt"
	"strings"
)

// NoteExcerptChars caps how much of each prior note goes into the prompt.
const NoteExcerptChars = 500

const systemPrompt = `You are an expert medical AI assistant helping doctors analyze patient encounters.

Your task is to:
1. Summarize the key medical information from the doctor's notes
2. Extract important medical keywords (symptoms, diagnoses, medications, procedures)
3. Identify any concerns or risks that need attention
4. Assess urgency level (1-5, where 5 is most urgent)

Always respond in valid JSON format with these exact keys:
{
    "analysis": "detailed analysis of the medical encounter",
    "summary": "concise 2-3 sentence summary",
    "keywords": ["keyword1", "keyword2", ...],
    "concerns": ["concern1", "concern2", ...],
    "urgency_level": 1-5
}

Be thorough but concise. Focus on clinically relevant information.`

func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("PATIENT INFORMATION\n")
	if p := req.Patient; p != nil {
		fmt.Fprintf(&b, "Name: %s %s\n", p.FirstName, p.LastName)
		if p.DateOfBirth != nil {
			fmt.Fprintf(&b, "DOB: %s\n", p.DateOfBirth.Format("2006-01-02"))
		}
		if p.Gender != "" {
			fmt.Fprintf(&b, "Gender: %s\n", p.Gender)
		}
		if p.Allergies != "" {
			fmt.Fprintf(&b, "Allergies: %s\n", p.Allergies)
		}
		if p.MedicalHistory != "" {
			fmt.Fprintf(&b, "Medical History: %s\n", p.MedicalHistory)
		}
	} else {
		b.WriteString("Unknown patient\n")
	}

	if len(req.PriorNotes) > 0 {
		b.WriteString("\nPREVIOUS NOTES (Most Recent)\n")
		for i, n := range req.PriorNotes {
			fmt.Fprintf(&b, "\nNote %d (%s):\n", i+1, n.CreatedAt.Format("2006-01-02 15:04"))
			b.WriteString(Excerpt(n.Content, NoteExcerptChars))
			b.WriteString("\n")
		}
	}

	b.WriteString("\nCURRENT ENCOUNTER TRANSCRIPTION\n")
	b.WriteString(req.Transcript)
	b.WriteString("\n")

	if req.Context != "" {
		b.WriteString("\nADDITIONAL CONTEXT\n")
		b.WriteString(req.Context)
		b.WriteString("\n")
	}

	b.WriteString("\nINSTRUCTION\n")
	b.WriteString("Analyze the current encounter in context of the patient's history and previous notes. Provide structured analysis in JSON format.")

	return b.String()
}

// Excerpt returns at most limit characters of s.
func Excerpt(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
