// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends acquisition alerts by mail.
package alert // import "github.com/go-lpc/qtp/internal/alert"

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// Mailer sends alerts to a list of recipients through an SMTP server.
type Mailer struct {
	Usr  string
	Pwd  string
	Srv  string
	Port int
	Tgts []string

	send func(msg ...*mail.Message) error
}

// FromEnv creates a mailer from the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
func FromEnv() (*Mailer, error) {
	m := &Mailer{
		Usr: os.Getenv("MAIL_USERNAME"),
		Pwd: os.Getenv("MAIL_PASSWORD"),
		Srv: os.Getenv("MAIL_SERVER"),
	}
	if v := os.Getenv("MAIL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("alert: invalid MAIL_PORT %q: %w", v, err)
		}
		m.Port = port
	}
	for _, tgt := range strings.Split(os.Getenv("MAIL_TGTS"), ",") {
		tgt = strings.TrimSpace(tgt)
		if tgt == "" {
			continue
		}
		m.Tgts = append(m.Tgts, tgt)
	}

	if !m.valid() {
		return nil, fmt.Errorf("alert: missing credentials")
	}
	return m, nil
}

func (m *Mailer) valid() bool {
	return m.Usr != "" && m.Pwd != "" &&
		m.Srv != "" && m.Port != 0 &&
		len(m.Tgts) != 0
}

// Alert sends a plain text mail to all the recipients.
func (m *Mailer) Alert(subject, body string) error {
	if !m.valid() {
		return fmt.Errorf("alert: could not send mail alert: missing credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.Usr)
	msg.SetHeader("Bcc", m.Tgts...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	send := m.send
	if send == nil {
		dial := mail.NewDialer(m.Srv, m.Port, m.Usr, m.Pwd)
		dial.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
		send = dial.DialAndSend
	}

	err := send(msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail alert: %w", err)
	}
	return nil
}
