package email

import (
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// NewMessage builds a plain-text message. Header values are copied verbatim;
// gomail applies RFC 2047 encoding only when they contain non-ASCII text.
func NewMessage(from, to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID(from))
	m.SetBody("text/plain", body)
	return m
}

func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = strings.Trim(from[i+1:], "<> ")
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
