package models

// EmailMessage is the single message sent by one invocation.
type EmailMessage struct {
	Subject string
	Body    string
	From    string
	To      string
}
