package report

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

// PolicyType identifies the kind of transport-security policy that was
// discovered for a recipient domain.
type PolicyType int

const (
	PolicyNone PolicyType = iota
	PolicyTLSA
	PolicySTS
)

// TLSARecord is one DANE TLSA record entry.
type TLSARecord struct {
	IsEndEntity bool
	IsSPKI      bool
	IsSHA256    bool
	Data        []byte
}

// TLSAPolicy is the set of TLSA records discovered for a domain.
type TLSAPolicy struct {
	Entries []TLSARecord
}

// STSMode is the enforcement mode of an MTA-STS policy.
type STSMode int

const (
	STSModeNone STSMode = iota
	STSModeTesting
	STSModeEnforce
)

func (m STSMode) String() string {
	switch m {
	case STSModeEnforce:
		return "enforce"
	case STSModeTesting:
		return "testing"
	default:
		return "none"
	}
}

// MXPattern is one mx entry of an MTA-STS policy; a wildcard pattern
// matches any single left-most label.
type MXPattern struct {
	Host     string
	Wildcard bool
}

// STSPolicy is a fetched MTA-STS policy.
type STSPolicy struct {
	Mode   STSMode
	MaxAge uint64
	MX     []MXPattern
}

// PolicySource is the discovered policy attached to an incoming event.
// At most one of TLSA and STS is set, matching Type.
type PolicySource struct {
	Type PolicyType
	TLSA *TLSAPolicy
	STS  *STSPolicy
}

// Details renders the source into the descriptive form reports carry.
func (p PolicySource) Details(domain string) PolicyDetails {
	details := PolicyDetails{
		PolicyType:   "no-policy-found",
		PolicyDomain: domain,
	}

	switch p.Type {
	case PolicyTLSA:
		details.PolicyType = "tlsa"
		if p.TLSA != nil {
			for _, entry := range p.TLSA.Entries {
				usage := 2
				if entry.IsEndEntity {
					usage = 3
				}
				selector := 0
				if entry.IsSPKI {
					selector = 1
				}
				matching := 2
				if entry.IsSHA256 {
					matching = 1
				}
				var data strings.Builder
				for _, b := range entry.Data {
					fmt.Fprintf(&data, "%02X", b)
				}
				details.PolicyString = append(details.PolicyString,
					fmt.Sprintf("%d %d %d %s", usage, selector, matching, data.String()))
			}
		}
	case PolicySTS:
		details.PolicyType = "sts"
		if p.STS != nil {
			details.PolicyString = append(details.PolicyString,
				"version: STSv1",
				fmt.Sprintf("mode: %s", p.STS.Mode),
				fmt.Sprintf("max_age: %d", p.STS.MaxAge),
			)
			for _, mx := range p.STS.MX {
				host := mx.Host
				if mx.Wildcard {
					host = "*." + host
				}
				details.PolicyString = append(details.PolicyString, "mx: "+host)
				details.MXHost = append(details.MXHost, host)
			}
		}
	}

	return details
}

// Hash computes the 64-bit grouping hash of a policy: events observed
// under byte-identical policies aggregate into the same report section.
func (p PolicyDetails) Hash() uint64 {
	h := murmur3.New64()
	h.Write([]byte(p.PolicyType))
	h.Write([]byte{0})
	h.Write([]byte(p.PolicyDomain))
	h.Write([]byte{0})
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(p.PolicyString)))
	h.Write(n[:])
	for _, s := range p.PolicyString {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	for _, mx := range p.MXHost {
		h.Write([]byte(mx))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
