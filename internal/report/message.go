package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// composeMessage builds the RFC 5322 message that carries a compressed
// report as an attachment when no HTTP recipient accepted it. One
// message covers all mailbox recipients.
func (r *Reporter) composeMessage(domain string, out Report, recipients []string, compressed []byte) ([]byte, error) {
	var msg bytes.Buffer
	body := multipart.NewWriter(&msg)

	filename := fmt.Sprintf("%s!%s!%d!%d.json.gz",
		r.config.Submitter,
		domain,
		out.DateRange.StartDatetime.Unix(),
		out.DateRange.EndDatetime.Unix(),
	)

	writeHeader := func(name, value string) {
		fmt.Fprintf(&msg, "%s: %s\r\n", name, value)
	}
	writeHeader("From", fmt.Sprintf("%q <%s>", r.config.FromName, r.config.FromAddress))
	writeHeader("To", strings.Join(recipients, ", "))
	writeHeader("Subject", fmt.Sprintf("Report Domain: %s Submitter: %s Report-ID: <%s@%s>",
		domain, r.config.Submitter, out.ReportID, r.config.Submitter))
	writeHeader("TLS-Report-Domain", domain)
	writeHeader("TLS-Report-Submitter", r.config.Submitter)
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), r.config.Submitter))
	writeHeader("Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", body.Boundary()))
	msg.WriteString("\r\n")

	text, err := body.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=us-ascii"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(text,
		"This is an aggregate TLS report from %s covering the period\r\n%s to %s for domain %s.\r\n",
		r.config.Submitter,
		out.DateRange.StartDatetime.Format(time.RFC3339),
		out.DateRange.EndDatetime.Format(time.RFC3339),
		domain,
	)

	attachment, err := body.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("%s; name=%q", contentType, filename)},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filename)},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(attachment, compressed); err != nil {
		return nil, err
	}

	if err := body.Close(); err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

// writeBase64 encodes data in 76-column base64 lines.
func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		line := encoded
		if len(line) > 76 {
			line = line[:76]
		}
		encoded = encoded[len(line):]
		if _, err := fmt.Fprintf(w, "%s\r\n", line); err != nil {
			return err
		}
	}
	return nil
}
