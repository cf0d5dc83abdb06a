package email

import (
	"bytes"
	"fmt"
	"strings"
)

// PasswordReset builds the reset-link email.
func PasswordReset(to, name, link string) Message {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Bonjour %s,\n\n", greetingName(name))
	fmt.Fprintf(&buf, "Une réinitialisation de votre mot de passe a été demandée.\n")
	fmt.Fprintf(&buf, "Ce lien est valable 15 minutes :\n\n%s\n\n", link)
	fmt.Fprintf(&buf, "Si vous n'êtes pas à l'origine de cette demande, ignorez ce message.\n")
	return Message{To: []string{to}, Subject: "Réinitialisation de votre mot de passe", Body: buf.String()}
}

// TicketEvent describes a change on a support ticket for its creator.
type TicketEvent struct {
	TicketID    int64
	Subject     string
	Actor       string
	StatusLabel string
	Comment     string
	URL         string
}

// TicketUpdate builds the notification sent to a ticket's creator.
func TicketUpdate(to, name string, ev TicketEvent) Message {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Bonjour %s,\n\n", greetingName(name))
	fmt.Fprintf(&buf, "Votre ticket n°%d « %s » a été mis à jour par %s.\n\n", ev.TicketID, ev.Subject, ev.Actor)

	if ev.StatusLabel != "" {
		fmt.Fprintf(&buf, "Nouveau statut : %s\n\n", ev.StatusLabel)
	}
	if ev.Comment != "" {
		fmt.Fprintf(&buf, "Réponse :\n")
		for _, line := range strings.Split(ev.Comment, "\n") {
			fmt.Fprintf(&buf, "> %s\n", line)
		}
		fmt.Fprintln(&buf)
	}
	if ev.URL != "" {
		fmt.Fprintf(&buf, "%s\n\n", ev.URL)
	}
	fmt.Fprintf(&buf, "L'équipe support\n")

	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("[Ticket #%d] %s", ev.TicketID, ev.Subject),
		Body:    buf.String(),
	}
}

func greetingName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "bonjour"
}
