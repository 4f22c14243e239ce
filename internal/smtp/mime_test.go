package smtp

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmailPlainText(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@example.com",
		"To: b@temp.mail",
		"Subject: plain",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"hello world",
	}, "\r\n")

	parsed, err := ParseEmail([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "plain", parsed.Subject)
	assert.Equal(t, "hello world", parsed.Text)
	assert.Empty(t, parsed.HTML)
}

func TestParseEmailNoContentType(t *testing.T) {
	raw := "Subject: bare\r\n\r\njust a body"
	parsed, err := ParseEmail([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "just a body", parsed.Text)
}

func TestParseEmailEncodedSubject(t *testing.T) {
	raw := "Subject: =?UTF-8?B?5L2g5aW9?=\r\n\r\nbody"
	parsed, err := ParseEmail([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "你好", parsed.Subject)
}

func TestParseEmailMultipartAlternative(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@example.com",
		"Subject: alt",
		`Content-Type: multipart/alternative; boundary="BOUND"`,
		"",
		"--BOUND",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--BOUND",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html body</p>",
		"--BOUND--",
		"",
	}, "\r\n")

	parsed, err := ParseEmail([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "plain body", strings.TrimSpace(parsed.Text))
	assert.Equal(t, "<p>html body</p>", strings.TrimSpace(parsed.HTML))
}

func TestParseEmailQuotedPrintable(t *testing.T) {
	raw := strings.Join([]string{
		"Subject: qp",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=C3=A9",
	}, "\r\n")

	parsed, err := ParseEmail([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "café", parsed.Text)
}

func TestParseEmailBase64Body(t *testing.T) {
	body := base64.StdEncoding.EncodeToString([]byte("base64 body"))
	raw := strings.Join([]string{
		"Subject: b64",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: base64",
		"",
		body,
	}, "\r\n")

	parsed, err := ParseEmail([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "base64 body", parsed.Text)
}

func TestParseEmailSkipsAttachments(t *testing.T) {
	raw := strings.Join([]string{
		"Subject: with attachment",
		`Content-Type: multipart/mixed; boundary="MIX"`,
		"",
		"--MIX",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"body text",
		"--MIX",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="doc.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString([]byte("pdf-bytes")),
		"--MIX--",
		"",
	}, "\r\n")

	parsed, err := ParseEmail([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "body text", strings.TrimSpace(parsed.Text))
	assert.NotContains(t, parsed.Text, "pdf-bytes")
}

func TestParseEmailMissingBoundary(t *testing.T) {
	raw := "Content-Type: multipart/mixed\r\n\r\nbody"
	_, err := ParseEmail([]byte(raw))
	assert.Error(t, err)
}

func TestParseEmailGarbage(t *testing.T) {
	_, err := ParseEmail([]byte("not an email at all"))
	assert.Error(t, err)
}
