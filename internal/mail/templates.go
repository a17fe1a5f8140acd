package mail

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// MagicLink is the sign-in approval e-mail.
func MagicLink(to, baseURL, appName, token string, ttl time.Duration) Message {
	link := fmt.Sprintf("%s/auth/verify?token=%s", baseURL, token)
	return Message{
		To:      to,
		Subject: "Your login link",
		HTML: fmt.Sprintf(
			`<p>Click the link below to approve your sign-in:</p>`+
				`<p><a href="%s">Approve sign-in to %s</a></p>`+
				`<p>This link expires in %s.</p>`,
			link, html.EscapeString(appName), strings.TrimSpace(humanize.RelTime(time.Time{}, time.Time{}.Add(ttl), "", "")),
		),
	}
}

// Invitation tells a user they were invited to a team.
func Invitation(to, baseURL, teamName, inviter, message string, expires time.Time) Message {
	body := fmt.Sprintf(
		`<p>%s invited you to join <strong>%s</strong>.</p>`,
		html.EscapeString(inviter), html.EscapeString(teamName),
	)
	if message != "" {
		body += fmt.Sprintf(`<blockquote>%s</blockquote>`, html.EscapeString(message))
	}
	body += fmt.Sprintf(
		`<p><a href="%s/invitations">Review the invitation</a>. It expires %s.</p>`,
		baseURL, humanize.Time(expires),
	)
	return Message{To: to, Subject: "Invitation to join " + teamName, HTML: body}
}

// Notice wraps a plain notification for e-mail delivery.
func Notice(to, baseURL, title, message string) Message {
	return Message{
		To:      to,
		Subject: title,
		HTML: fmt.Sprintf(`<p>%s</p><p><a href="%s">Open Workboard</a></p>`,
			html.EscapeString(message), baseURL),
	}
}
