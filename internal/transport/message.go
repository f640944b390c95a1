package transport

import (
	"gopkg.in/gomail.v2"

	"mailspool/internal/compose"
)

// toGomail maps a composed message onto gomail, which handles the MIME
// multipart/alternative envelope and header encoding for us. The result
// is streamed straight onto the SMTP DATA writer.
func toGomail(msg *compose.Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m
}
