// Package report implements the deferred TLS reporting pipeline:
// accumulating per-domain transport-security outcomes in an event log,
// aggregating each group into an RFC 8460 report when its window closes,
// and delivering the report over HTTP with a mail fallback.
package report

import (
	"strings"
	"time"
)

// Report is the top-level RFC 8460 report document.
type Report struct {
	OrganizationName string         `json:"organization-name"`
	DateRange        DateRange      `json:"date-range"`
	ContactInfo      string         `json:"contact-info,omitempty"`
	ReportID         string         `json:"report-id"`
	Policies         []PolicyResult `json:"policies"`
}

// DateRange is the aggregation window covered by a report.
type DateRange struct {
	StartDatetime time.Time `json:"start-datetime"`
	EndDatetime   time.Time `json:"end-datetime"`
}

// PolicyResult is the per-policy section of a report.
type PolicyResult struct {
	Policy         PolicyDetails    `json:"policy"`
	Summary        Summary          `json:"summary"`
	FailureDetails []FailureDetails `json:"failure-details,omitempty"`
}

// PolicyDetails describes the discovered policy a section reports on.
type PolicyDetails struct {
	PolicyType   string   `json:"policy-type"`
	PolicyString []string `json:"policy-string,omitempty"`
	PolicyDomain string   `json:"policy-domain"`
	MXHost       []string `json:"mx-host,omitempty"`
}

// Summary counts sessions per policy section.
type Summary struct {
	TotalSuccess uint32 `json:"total-successful-session-count"`
	TotalFailure uint32 `json:"total-failure-session-count"`
}

// FailureDetails describes one distinct failure shape. All fields are
// comparable so identical failures collapse into a single record whose
// FailedSessionCount carries the number of occurrences.
type FailureDetails struct {
	ResultType            string `json:"result-type"`
	SendingMTAIP          string `json:"sending-mta-ip,omitempty"`
	ReceivingMXHostname   string `json:"receiving-mx-hostname,omitempty"`
	ReceivingMXHelo       string `json:"receiving-mx-helo,omitempty"`
	ReceivingIP           string `json:"receiving-ip,omitempty"`
	FailedSessionCount    uint32 `json:"failed-session-count"`
	AdditionalInformation string `json:"additional-information,omitempty"`
	FailureReasonCode     string `json:"failure-reason-code,omitempty"`
}

// Failure result types (RFC 8460 section 4.3).
const (
	ResultSTARTTLSNotSupported    = "starttls-not-supported"
	ResultCertificateHostMismatch = "certificate-host-mismatch"
	ResultCertificateExpired      = "certificate-expired"
	ResultCertificateNotTrusted   = "certificate-not-trusted"
	ResultValidationFailure       = "validation-failure"
	ResultTLSAInvalid             = "tlsa-invalid"
	ResultDNSSECInvalid           = "dnssec-invalid"
	ResultDANERequired            = "dane-required"
	ResultSTSPolicyFetchError     = "sts-policy-fetch-error"
	ResultSTSPolicyInvalid        = "sts-policy-invalid"
	ResultSTSWebPKIInvalid        = "sts-webpki-invalid"
)

// ReportURI is a report destination published by the remote domain,
// either an HTTP endpoint or a mailbox address.
type ReportURI string

// IsHTTP reports whether the URI is an HTTP endpoint.
func (u ReportURI) IsHTTP() bool {
	s := string(u)
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

// IsMail reports whether the URI is a mailto: address.
func (u ReportURI) IsMail() bool {
	return strings.HasPrefix(string(u), "mailto:")
}

// Mailbox returns the mailbox address of a mailto: URI.
func (u ReportURI) Mailbox() string {
	return strings.TrimPrefix(string(u), "mailto:")
}

// reportHeader is the per-group metadata entry written on the group's
// first event. The events carry the failure details; the header carries
// only policy metadata and the recipient list.
type reportHeader struct {
	RUA     []ReportURI      `json:"rua"`
	Policy  PolicyDetails    `json:"policy"`
	Records []FailureDetails `json:"records"`
}
