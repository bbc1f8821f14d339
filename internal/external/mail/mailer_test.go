package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func TestSMTPMailer_Compose(t *testing.T) {
	m := NewSMTPMailer(Config{From: "alerts@example.com", FromName: "Earnings Watch"})
	m.now = func() time.Time { return time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC) }

	raw, err := m.Compose("pm@example.com", "TCS Q2 2027 analysis", "Revenue grew 12%.\n")
	require.NoError(t, err)

	r, err := gomail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "TCS Q2 2027 analysis", subject)

	from, err := r.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "alerts@example.com", from[0].Address)
	assert.Equal(t, "Earnings Watch", from[0].Name)

	to, err := r.Header.AddressList("To")
	require.NoError(t, err)
	assert.Equal(t, "pm@example.com", to[0].Address)

	date, err := r.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(m.now()))

	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 12%.\n", string(body))
}

// fakeSMTP speaks just enough SMTP for one delivery
func fakeSMTP(t *testing.T, rcptReply string) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	data := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch cmd {
			case "EHLO", "HELO":
				tp.PrintfLine("250 localhost")
			case "MAIL":
				tp.PrintfLine("250 OK")
			case "RCPT":
				tp.PrintfLine("%s", rcptReply)
			case "DATA":
				tp.PrintfLine("354 Go ahead")
				lines, _ := tp.ReadDotLines()
				data <- strings.Join(lines, "\n")
				tp.PrintfLine("250 Queued")
			case "QUIT":
				tp.PrintfLine("221 Bye")
				return
			default:
				tp.PrintfLine("250 OK")
			}
		}
	}()
	return ln.Addr().String(), data
}

func newTestMailer(t *testing.T, addr string) *SMTPMailer {
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var p int
	_, err = fmt.Sscanf(port, "%d", &p)
	require.NoError(t, err)
	return NewSMTPMailer(Config{Host: host, Port: p, From: "alerts@example.com", Timeout: 5 * time.Second})
}

func TestSMTPMailer_Send(t *testing.T) {
	addr, data := fakeSMTP(t, "250 OK")
	m := newTestMailer(t, addr)

	require.NoError(t, m.Send(context.Background(), "pm@example.com", "Subject line", "Body text"))

	select {
	case msg := <-data:
		assert.Contains(t, msg, "Subject: Subject line")
		assert.Contains(t, msg, "Body text")
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestSMTPMailer_SendRejected(t *testing.T) {
	addr, _ := fakeSMTP(t, "550 No such user")
	m := newTestMailer(t, addr)

	err := m.Send(context.Background(), "ghost@example.com", "s", "b")
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

func TestSMTPMailer_SendUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = newTestMailer(t, addr).Send(context.Background(), "pm@example.com", "s", "b")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestClassify(t *testing.T) {
	assert.True(t, domain.IsRetryable(classify(&textproto.Error{Code: 451, Msg: "try later"})))
	assert.False(t, domain.IsRetryable(classify(fmt.Errorf("wrapped: %w", &textproto.Error{Code: 554, Msg: "rejected"}))))
	assert.True(t, domain.IsRetryable(classify(errors.New("connection reset"))))
}

