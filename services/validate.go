package services

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Formats accepted for submission.
var allowedFormats = map[string]bool{
	"mp4":  true,
	"mp3":  true,
	"webm": true,
}

// Validator checks submissions against the domain allow-list and the
// enumerated format/quality sets.
type Validator struct {
	allowedDomains []string
}

func NewValidator(allowedDomains []string) *Validator {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		domains = append(domains, strings.ToLower(d))
	}
	return &Validator{allowedDomains: domains}
}

// ValidateRequest checks URL, format and quality. It returns a
// *ValidationError on the first problem found.
func (v *Validator) ValidateRequest(rawURL, format, quality string) error {
	if err := v.ValidateURL(rawURL); err != nil {
		return err
	}
	if !allowedFormats[format] {
		return &ValidationError{Field: "format", Reason: "must be one of mp4, mp3, webm"}
	}
	if !validQuality(quality) {
		return &ValidationError{Field: "quality", Reason: "must be best, worst or a video height"}
	}
	return nil
}

// ValidateURL requires a parseable http(s) URL whose host is an allow-listed
// domain or a subdomain of one. This is the primary defense against pointing
// the download tool at arbitrary targets.
func (v *Validator) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "url", Reason: "required"}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "not a valid URL"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}

	host := strings.ToLower(parsed.Hostname())
	for _, domain := range v.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return &ValidationError{Field: "url", Reason: "host is not an allowed domain"}
}

func validQuality(quality string) bool {
	if quality == "best" || quality == "worst" {
		return true
	}
	height, err := strconv.Atoi(quality)
	return err == nil && height >= 144 && height <= 4320
}

var filenameRe = regexp.MustCompile(`[^\w\s\-.()]`)
var spacesRe = regexp.MustCompile(`\s+`)

// SanitizeFilename strips characters unsafe for artifact names and collapses
// whitespace to underscores.
func SanitizeFilename(name string) string {
	name = filenameRe.ReplaceAllString(name, "")
	name = spacesRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
