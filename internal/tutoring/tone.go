package tutoring

import (
	"github.com/edforge/mentor/internal/affect"
	"github.com/edforge/mentor/internal/i18n"
)

// ApplyTone frames a hint for the student's smoothed affect: a gentle
// wrap for frustration, an energizing wrap for boredom, unchanged
// otherwise.
func ApplyTone(text string, tone affect.Tone) string {
	switch tone {
	case affect.ToneGentle:
		return i18n.T("tone.gentle.prefix") + "\n\n" + text + "\n\n" + i18n.T("tone.gentle.suffix")
	case affect.ToneChallenge:
		return i18n.T("tone.challenge.prefix") + "\n\n" + text + "\n\n" + i18n.T("tone.challenge.suffix")
	default:
		return text
	}
}
