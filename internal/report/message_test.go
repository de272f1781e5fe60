package report

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/tlsrptd/internal/storage"
)

func TestComposeMessage(t *testing.T) {
	reporter := newTestReporter(storage.NewMemoryBackend(), &fakeSubmitter{})

	out := Report{
		OrganizationName: "Example Org",
		ReportID:         "1700000000_42",
		DateRange: DateRange{
			StartDatetime: time.Unix(1700000000, 0).UTC(),
			EndDatetime:   time.Unix(1700086400, 0).UTC(),
		},
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	_, err := gz.Write([]byte(`{"policies":[]}`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	recipients := []string{"tls-a@example.org", "tls-b@example.org"}
	raw, err := reporter.composeMessage("example.org", out, recipients, compressed.Bytes())
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	t.Run("headers", func(t *testing.T) {
		assert.Contains(t, msg.Header.Get("From"), "noreply@example.com")
		assert.Equal(t, "tls-a@example.org, tls-b@example.org", msg.Header.Get("To"))
		assert.Equal(t,
			"Report Domain: example.org Submitter: mx.example.com Report-ID: <1700000000_42@mx.example.com>",
			msg.Header.Get("Subject"))
		assert.Equal(t, "example.org", msg.Header.Get("TLS-Report-Domain"))
		assert.Equal(t, "mx.example.com", msg.Header.Get("TLS-Report-Submitter"))
		assert.NotEmpty(t, msg.Header.Get("Message-ID"))
		assert.Equal(t, "1.0", msg.Header.Get("MIME-Version"))
	})

	t.Run("attachment round trip", func(t *testing.T) {
		mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/mixed", mediaType)

		parts := multipart.NewReader(msg.Body, params["boundary"])

		text, err := parts.NextPart()
		require.NoError(t, err)
		body, err := io.ReadAll(text)
		require.NoError(t, err)
		assert.Contains(t, string(body), "aggregate TLS report")
		assert.Contains(t, string(body), "example.org")

		attachment, err := parts.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "base64", attachment.Header.Get("Content-Transfer-Encoding"))

		wantName := "mx.example.com!example.org!1700000000!1700086400.json.gz"
		assert.Contains(t, attachment.Header.Get("Content-Disposition"), wantName)

		// The multipart reader does not decode transfer encodings itself.
		encoded, err := io.ReadAll(attachment)
		require.NoError(t, err)
		decoded := decodeBase64Lines(t, string(encoded))
		assert.Equal(t, compressed.Bytes(), decoded)
	})
}

func decodeBase64Lines(t *testing.T, encoded string) []byte {
	t.Helper()
	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(encoded)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	require.NoError(t, err)
	return decoded
}
