package recorder

import (
	"strconv"
	"strings"
	"time"
)

// Templates hold the subject and body patterns alerts are rendered from.
// Recognized tokens: ${AlertType}, ${CommandId}, ${Command}, ${StartUtc},
// ${EndUtc}, ${ExitCode}, ${DurationMs}, ${Error}, ${ConsecutiveFailures},
// ${CustomMessage}.
type Templates struct {
	Subject string `mapstructure:"subjectTemplate" json:"subjectTemplate"`
	Body    string `mapstructure:"bodyTemplate" json:"bodyTemplate"`
}

// DefaultTemplates returns the built-in alert wording.
func DefaultTemplates() Templates {
	return Templates{
		Subject: "[cronhost] ${AlertType}: ${CommandId}",
		Body: strings.Join([]string{
			"Alert:    ${AlertType}",
			"Command:  ${CommandId}",
			"Line:     ${Command}",
			"Start:    ${StartUtc}",
			"End:      ${EndUtc}",
			"Duration: ${DurationMs} ms",
			"Exit:     ${ExitCode}",
			"Error:    ${Error}",
			"Failures: ${ConsecutiveFailures}",
			"${CustomMessage}",
		}, "\n"),
	}
}

// orDefaults fills empty fields from the built-in wording.
func (t Templates) orDefaults() Templates {
	def := DefaultTemplates()
	if t.Subject == "" {
		t.Subject = def.Subject
	}
	if t.Body == "" {
		t.Body = def.Body
	}
	return t
}

// render substitutes the event's values into both templates.
func (t Templates) render(alertType string, e Event, consecutive int) (subject, body string) {
	r := strings.NewReplacer(
		"${AlertType}", alertType,
		"${CommandId}", e.CommandID,
		"${Command}", e.Command,
		"${StartUtc}", e.StartUTC.UTC().Format(time.RFC3339),
		"${EndUtc}", e.EndUTC.UTC().Format(time.RFC3339),
		"${ExitCode}", e.exitCodeString(),
		"${DurationMs}", strconv.FormatInt(e.DurationMS(), 10),
		"${Error}", e.Error,
		"${ConsecutiveFailures}", strconv.Itoa(consecutive),
		"${CustomMessage}", e.CustomMessage,
	)
	return r.Replace(t.Subject), r.Replace(t.Body)
}
