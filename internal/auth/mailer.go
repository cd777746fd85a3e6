// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package auth

import "context"

// Message is an outgoing plain-text email.
type Message struct {
	To      string
	Name    string
	Subject string
	Body    string
}

// Mailer delivers messages. A nil error means the transport accepted it.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

func recipient(user *User) (string, string) {
	return user.Email, user.FirstName + " " + user.LastName
}
