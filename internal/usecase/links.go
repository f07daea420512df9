package usecase

import (
	"net/url"
	"strings"
)

const verifyPagePath = "/public/verify.html"

// publicOrigin prefers the configured base URL over the request origin.
func publicOrigin(configured, requested string) string {
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}
	return strings.TrimRight(requested, "/")
}

// VerificationURI is the public page a verification code points at.
func VerificationURI(origin, id string) string {
	return origin + verifyPagePath + "?id=" + url.QueryEscape(id)
}
