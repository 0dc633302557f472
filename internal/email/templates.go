package email

import (
	"fmt"
	"strings"

	"studylock/internal/notify"
)

func render(n notify.Notification) (subject, body string) {
	name := n.UserName
	if name == "" {
		name = n.UserEmail
	}

	switch n.Kind {
	case notify.KindUnlockRequested:
		subject = fmt.Sprintf("Unlock request from %s", name)
		body = fmt.Sprintf(`%s (%s) has asked to be released from their primary subject.

Progress so far:

    Days locked:  %d
    Sessions:     %d
    AARs:         %d

Review the request in the admin console.`, name, n.UserEmail, n.DaysElapsed, n.SessionCount, n.AarCount)

	case notify.KindUnlockApproved:
		subject = "Your unlock request was approved"
		body = fmt.Sprintf(`Hello %s,

An administrator approved your unlock request. You can now declare a new primary subject.
Your session and AAR counts start again from zero.`, name)

	case notify.KindUnlockDenied:
		subject = "Your unlock request was denied"
		var b strings.Builder
		fmt.Fprintf(&b, "Hello %s,\n\nAn administrator denied your unlock request. Your current subject stays locked.", name)
		if n.Reason != "" {
			fmt.Fprintf(&b, "\n\nReason:\n\n    %s", n.Reason)
		}
		body = b.String()

	case notify.KindUnlockForced:
		subject = "Your subject lock was cleared"
		body = fmt.Sprintf(`Hello %s,

An administrator cleared your subject lock. You can now declare a new primary subject.
Your session and AAR counts start again from zero.`, name)

	case notify.KindAutoUnlocked:
		subject = "You unlocked your subject"
		body = fmt.Sprintf(`Hello %s,

You met every unlock requirement and your subject lock has been released.
Pick your next primary subject whenever you are ready.`, name)

	default:
		subject = "Study lock update"
		body = fmt.Sprintf("Hello %s,\n\nThere is an update on your study lock (%s).", name, n.Kind)
	}

	return subject, body + "\n\n- The Study Lock Team"
}
