package generation

import (
	"fmt"
	"strings"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/domain"
)

// systemLabels maps each interpretive system to the name used in prompts.
var systemLabels = map[domain.System]string{
	domain.SystemWestern:     "Western astrology",
	domain.SystemVedic:       "Vedic astrology",
	domain.SystemChinese:     "Chinese astrology",
	domain.SystemNumerology:  "numerology",
	domain.SystemHumanDesign: "Human Design",
}

// buildPrompt renders the generation prompt for a text task payload. Each
// role produces a different document shape: individual readings describe one
// subject through one system, overlays describe the relationship between two
// subjects within one system, and the verdict synthesizes all per-system
// documents into a final cross-system assessment.
func buildPrompt(payload domain.TaskPayload) (string, error) {
	var b strings.Builder

	switch payload.Role {
	case domain.RolePerson1, domain.RolePerson2:
		if len(payload.Subjects) == 0 {
			return "", fmt.Errorf("%w: individual reading needs a subject", ErrGenerationFailed)
		}
		fmt.Fprintf(&b, "Write an in-depth %s reading for the following person.\n\n", systemLabels[payload.System])
		writeSubject(&b, payload.Subjects[0])
		b.WriteString("\nCover personality, strengths, challenges, and life themes. ")
		b.WriteString("Write in flowing prose with markdown section headers. ")
		b.WriteString("Address the person directly and stay entirely within this one system.")

	case domain.RoleOverlay:
		if len(payload.Subjects) < 2 {
			return "", fmt.Errorf("%w: overlay reading needs two subjects", ErrGenerationFailed)
		}
		fmt.Fprintf(&b, "Write a %s compatibility reading for the following two people.\n\n", systemLabels[payload.System])
		for i, s := range payload.Subjects[:2] {
			fmt.Fprintf(&b, "Person %d:\n", i+1)
			writeSubject(&b, s)
			b.WriteString("\n")
		}
		b.WriteString("Analyze how their charts interact: attraction, friction, long-term dynamics. ")
		b.WriteString("Write in flowing prose with markdown section headers, within this one system.")

	case domain.RoleVerdict:
		if len(payload.Subjects) == 0 {
			return "", fmt.Errorf("%w: verdict needs at least one subject", ErrGenerationFailed)
		}
		b.WriteString("Write the final verdict of a multi-system reading")
		if len(payload.Subjects) >= 2 {
			fmt.Fprintf(&b, " for %s and %s", payload.Subjects[0].Name, payload.Subjects[1].Name)
		} else {
			fmt.Fprintf(&b, " for %s", payload.Subjects[0].Name)
		}
		b.WriteString(", drawing on Western astrology, Vedic astrology, Chinese astrology, numerology, and Human Design.\n\n")
		for i, s := range payload.Subjects {
			fmt.Fprintf(&b, "Person %d:\n", i+1)
			writeSubject(&b, s)
			b.WriteString("\n")
		}
		b.WriteString("Weigh where the systems agree and where they diverge, then deliver a decisive ")
		b.WriteString("closing assessment. Write in flowing prose with markdown section headers.")

	default:
		return "", fmt.Errorf("%w: unknown document role %q", ErrGenerationFailed, payload.Role)
	}

	return b.String(), nil
}

func writeSubject(b *strings.Builder, s domain.Subject) {
	fmt.Fprintf(b, "Name: %s\nBorn: %s", s.Name, s.BirthDate)
	if s.BirthTime != "" {
		fmt.Fprintf(b, " at %s", s.BirthTime)
	}
	if s.BirthPlace != "" {
		fmt.Fprintf(b, " in %s", s.BirthPlace)
	}
	b.WriteString("\n")
}
