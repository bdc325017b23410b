package email

import "fmt"

// UnlockMessage builds the delivered-entry email a beneficiary receives
// when a "send" entry executes: viewer link, one-time security key, sender
// name, and entry title.
func (c *Client) UnlockMessage(to, senderName, title, viewerLink, securityKey string) Message {
	senderName = c.SanitizeText(senderName)
	title = c.SanitizeText(title)

	subject := fmt.Sprintf("Message from %s", senderName)
	text := fmt.Sprintf(
		"%s has sent you a message through Afterword.\n\n"+
			"Title: %s\n\n"+
			"Open it here: %s\n\n"+
			"Security key (you'll need this to unlock the message): %s\n\n"+
			"This secure transmission expires 30 days after delivery.\n",
		senderName, title, viewerLink, securityKey,
	)
	html := unlockHTML(senderName, title, viewerLink, securityKey)

	return Message{To: to, Subject: subject, Text: text, HTML: html}
}

func unlockHTML(senderName, title, viewerLink, securityKey string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="margin:0;padding:0;background:#0b0b0f;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;">
<table role="presentation" width="100%%" cellpadding="0" cellspacing="0" style="padding:32px 0;">
<tr><td align="center">
<table role="presentation" width="480" cellpadding="0" cellspacing="0" style="background:#16161d;border-radius:12px;padding:32px;color:#e8e8ec;">
<tr><td>
<h1 style="font-size:20px;margin:0 0 16px;">A message has arrived</h1>
<p style="margin:0 0 12px;"><strong>%s</strong> has sent you a message through Afterword.</p>
<p style="margin:0 0 12px;">Title: <strong>%s</strong></p>
<p style="margin:24px 0;"><a href="%s" style="background:#5865f2;color:#fff;padding:12px 20px;border-radius:8px;text-decoration:none;display:inline-block;">Open the message</a></p>
<p style="margin:0 0 4px;color:#9a9aa5;font-size:13px;">Security key (you will be asked for this):</p>
<p style="margin:0 0 16px;font-family:monospace;font-size:13px;word-break:break-all;">%s</p>
<p style="margin:0;color:#9a9aa5;font-size:12px;">This secure transmission expires 30 days after delivery.</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`, senderName, title, viewerLink, securityKey)
}

// ReminderMessage builds the pre-deadline reminder email, 24 hours before a
// timer expires, with urgency language chosen by remaining-fraction bucket.
// Sent to the vault owner, not a beneficiary.
func (c *Client) ReminderMessage(to string, remainingFraction float64) Message {
	bucket := ReminderBucket(remainingFraction)
	subject := fmt.Sprintf("%s: your Afterword timer is about to expire", bucket.Label)
	text := fmt.Sprintf(
		"%s\n\nYour check-in deadline is less than 24 hours away. "+
			"Check in now to reset your timer, or your vault entries will be executed automatically.\n",
		bucket.Sentence,
	)
	html := fmt.Sprintf(`<!DOCTYPE html>
<html><body style="font-family:sans-serif;">
<h2>%s</h2>
<p>%s</p>
<p>Your check-in deadline is less than 24 hours away. Check in now to reset your timer, or your vault entries will be executed automatically.</p>
</body></html>`, bucket.Label, bucket.Sentence)

	return Message{To: to, Subject: subject, Text: text, HTML: html}
}

// DowngradeCourtesyMessage builds the courtesy email sent when a
// subscription downgrade reverts a strong pro/lifetime signal (custom timer
// or active audio entries). Weak-signal reverts send no email at all --
// callers never invoke this for those.
func (c *Client) DowngradeCourtesyMessage(to string) Message {
	subject := "Your Afterword plan has changed"
	text := "Your subscription is no longer active. Some settings that required a paid plan " +
		"(a custom check-in timer, or audio vault entries) have been reset to the free defaults. " +
		"Your existing text entries are unaffected.\n"
	html := `<!DOCTYPE html>
<html><body style="font-family:sans-serif;">
<h2>Your Afterword plan has changed</h2>
<p>Your subscription is no longer active. Some settings that required a paid plan (a custom check-in timer, or audio vault entries) have been reset to the free defaults.</p>
<p>Your existing text entries are unaffected.</p>
</body></html>`

	return Message{To: to, Subject: subject, Text: text, HTML: html}
}
