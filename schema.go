package samlsso

import (
	"time"
)

// The SAML success status code per the 2.0 core spec.
const statusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

// responseEnvelope carries the Response-level fields the validator
// inspects before the assertion itself is trusted.
type responseEnvelope struct {
	ID           string `xml:"ID,attr"`
	InResponseTo string `xml:"InResponseTo,attr"`
	Destination  string `xml:"Destination,attr"`
	Issuer       string `xml:"Issuer"`
	Status       struct {
		StatusCode struct {
			Value string `xml:"Value,attr"`
		} `xml:"StatusCode"`
	} `xml:"Status"`
}

// assertionEnvelope models the subset of an Assertion the validator
// extracts identity from. Timestamps stay strings until parsed so a
// malformed instant is reported as such rather than silently zeroed.
type assertionEnvelope struct {
	ID     string `xml:"ID,attr"`
	Issuer string `xml:"Issuer"`

	Subject struct {
		NameID struct {
			Format string `xml:"Format,attr"`
			Value  string `xml:",chardata"`
		} `xml:"NameID"`
		SubjectConfirmation struct {
			Data struct {
				InResponseTo string `xml:"InResponseTo,attr"`
				Recipient    string `xml:"Recipient,attr"`
				NotOnOrAfter string `xml:"NotOnOrAfter,attr"`
			} `xml:"SubjectConfirmationData"`
		} `xml:"SubjectConfirmation"`
	} `xml:"Subject"`

	Conditions struct {
		NotBefore            string `xml:"NotBefore,attr"`
		NotOnOrAfter         string `xml:"NotOnOrAfter,attr"`
		AudienceRestrictions []struct {
			Audiences []string `xml:"Audience"`
		} `xml:"AudienceRestriction"`
	} `xml:"Conditions"`

	AuthnStatements []struct {
		SessionIndex string `xml:"SessionIndex,attr"`
	} `xml:"AuthnStatement"`

	AttributeStatements []struct {
		Attributes []struct {
			Name         string   `xml:"Name,attr"`
			FriendlyName string   `xml:"FriendlyName,attr"`
			Values       []string `xml:"AttributeValue"`
		} `xml:"Attribute"`
	} `xml:"AttributeStatement"`
}

// audiences flattens all AudienceRestriction entries.
func (a *assertionEnvelope) audiences() []string {
	var out []string
	for _, ar := range a.Conditions.AudienceRestrictions {
		out = append(out, ar.Audiences...)
	}
	return out
}

// sessionIndex returns the first nonempty SessionIndex, if any.
func (a *assertionEnvelope) sessionIndex() string {
	for _, stmt := range a.AuthnStatements {
		if stmt.SessionIndex != "" {
			return stmt.SessionIndex
		}
	}
	return ""
}

// attributes collects attribute values keyed by name, preserving the
// order of values within each attribute. FriendlyName wins over Name
// when present.
func (a *assertionEnvelope) attributes() map[string][]string {
	attrs := make(map[string][]string)
	for _, stmt := range a.AttributeStatements {
		for _, attr := range stmt.Attributes {
			key := attr.FriendlyName
			if key == "" {
				key = attr.Name
			}
			attrs[key] = append(attrs[key], attr.Values...)
		}
	}
	return attrs
}

// parseSAMLInstant parses a SAML timestamp. The core spec mandates UTC
// xs:dateTime, which RFC 3339 covers including fractional seconds.
func parseSAMLInstant(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
