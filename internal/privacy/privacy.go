// Package privacy provides privacy-focused utility functions for handling sensitive data
// such as filesystem path scrubbing, URL anonymization, and system ID generation.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Pre-compiled patterns for better performance
var (
	// URL pattern for finding URLs in text
	urlPattern = regexp.MustCompile(`\b(?:https?|file)://\S+`)

	// Absolute Unix paths with at least two segments, so bare route
	// fragments like "/health" survive while library paths do not
	unixPathPattern = regexp.MustCompile(`(?:/[^/\s"'?*<>|:]+){2,}/?`)

	// Windows drive-letter paths
	windowsPathPattern = regexp.MustCompile(`\b[A-Za-z]:[\\/][^\s"'?*<>|]+`)

	// IPv4 pattern for IP address detection
	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage removes or anonymizes sensitive information from telemetry messages.
// URLs are replaced with anonymized hashes first, then any remaining absolute
// filesystem paths. Photo library paths routinely carry usernames and album
// names, so no original path segment survives scrubbing.
func ScrubMessage(message string) string {
	scrubbed := urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	scrubbed = windowsPathPattern.ReplaceAllStringFunc(scrubbed, AnonymizePath)
	return unixPathPattern.ReplaceAllStringFunc(scrubbed, AnonymizePath)
}

// AnonymizePath converts an absolute filesystem path to an anonymized form.
// The hash is stable for a given path and the file extension is preserved,
// so repeated failures on the same file remain correlatable and the media
// type stays visible without revealing directory or file names.
func AnonymizePath(path string) string {
	hash := sha256.Sum256([]byte(path))
	return fmt.Sprintf("path-%x%s", hash[:6], pathExtension(path))
}

// pathExtension extracts the final extension of the last path segment when it
// looks like a real file suffix. Trailing separators and oversized or
// non-alphanumeric suffixes yield an empty string.
func pathExtension(path string) string {
	trimmed := strings.TrimRight(path, "/\\")
	if idx := strings.LastIndexAny(trimmed, "/\\"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}

	dot := strings.LastIndex(trimmed, ".")
	if dot <= 0 || dot == len(trimmed)-1 {
		return ""
	}

	ext := trimmed[dot+1:]
	if len(ext) > 5 {
		return ""
	}
	for _, r := range ext {
		if !isAlphanumeric(r) {
			return ""
		}
	}

	return "." + strings.ToLower(ext)
}

// AnonymizeURL converts a URL to an anonymized form while preserving debugging value
// It maintains the URL structure but removes sensitive information like credentials,
// hostnames, and paths while preserving categorization for debugging
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		// If parsing fails, create a hash of the raw string
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	// Create a normalized version for hashing
	// Include scheme, host pattern, and path structure but remove sensitive data
	var normalizedParts []string

	// Include scheme (https, file, etc.)
	if parsedURL.Scheme != "" {
		normalizedParts = append(normalizedParts, parsedURL.Scheme)
	}

	// Anonymize hostname/IP
	host := parsedURL.Hostname()
	if host != "" {
		hostType := categorizeHost(host)
		normalizedParts = append(normalizedParts, hostType)
	}

	// Include port if present
	if parsedURL.Port() != "" {
		normalizedParts = append(normalizedParts, "port-"+parsedURL.Port())
	}

	// Include path structure (without sensitive details)
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		pathStructure := anonymizeURLPath(parsedURL.Path)
		normalizedParts = append(normalizedParts, pathStructure)
	}

	// Create consistent hash
	normalized := strings.Join(normalizedParts, ":")
	hash := sha256.Sum256([]byte(normalized))

	return fmt.Sprintf("url-%x", hash[:12])
}

// GenerateSystemID creates a unique system identifier
// The ID is 12 characters long, URL-safe, and case-insensitive
// Format: XXXX-XXXX-XXXX (14 chars total with hyphens)
func GenerateSystemID() (string, error) {
	// Generate 6 random bytes (will become 12 hex characters)
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Convert to hex string (12 characters)
	id := hex.EncodeToString(bytes)

	// Format as XXXX-XXXX-XXXX for readability
	formatted := fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])

	return strings.ToUpper(formatted), nil
}

// IsValidSystemID checks if a system ID has the correct format
func IsValidSystemID(id string) bool {
	// Check format: XXXX-XXXX-XXXX (14 chars total)
	if len(id) != 14 {
		return false
	}

	// Check hyphens at correct positions
	if id[4] != '-' || id[9] != '-' {
		return false
	}

	// Check that all other characters are hex
	for i, char := range id {
		if i == 4 || i == 9 {
			continue // Skip hyphens
		}
		if !isHexChar(char) {
			return false
		}
	}

	return true
}

// categorizeHost anonymizes hostnames while preserving useful categorization
func categorizeHost(host string) string {
	// Check for localhost patterns
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}

	// Check for private IP ranges
	if isPrivateIP(host) {
		return "private-ip"
	}

	// Check for public IP
	if isIPAddress(host) {
		return "public-ip"
	}

	// For domain names, preserve TLD only
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		tld := parts[len(parts)-1]
		return "domain-" + tld
	}

	return "unknown-host"
}

// anonymizeURLPath creates a structure-preserving but privacy-safe path representation
func anonymizeURLPath(path string) string {
	// Remove leading/trailing slashes for processing
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	// Split path into segments
	segments := strings.Split(path, "/")
	var anonymizedSegments []string

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if isNumeric(segment) {
			anonymizedSegments = append(anonymizedSegments, "numeric")
			continue
		}

		// Hash individual segments to maintain path structure
		hash := sha256.Sum256([]byte(segment))
		anonymizedSegments = append(anonymizedSegments, fmt.Sprintf("seg-%x", hash[:4]))
	}

	return strings.Join(anonymizedSegments, "/")
}

// isPrivateIP checks if the host is a private IP address (both IPv4 and IPv6)
func isPrivateIP(host string) bool {
	privateRanges := []string{
		// IPv4 private ranges
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		// IPv6 private ranges
		"fc00:", "fd00:", // Unique local addresses
		"fe80:",                   // Link-local addresses
		"::1",                     // Loopback
		"ff00:", "ff01:", "ff02:", // Multicast
	}

	for _, prefix := range privateRanges {
		if strings.HasPrefix(strings.ToLower(host), strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// isIPAddress checks if the host looks like an IP address
func isIPAddress(host string) bool {
	// Check for IPv4 using pre-compiled pattern
	if ipv4Pattern.MatchString(host) {
		return true
	}

	// Check for IPv6 (contains colons)
	return strings.Contains(host, ":")
}

// isNumeric checks if a string is purely numeric
func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// isHexChar checks if a rune is a valid hex character
func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

// isAlphanumeric checks if a rune is an ASCII letter or digit
func isAlphanumeric(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

// scrubbedError carries a scrubbed message for logging while keeping the
// original error reachable through Unwrap, so errors.Is still matches.
type scrubbedError struct {
	original error
	message  string
}

func (e *scrubbedError) Error() string {
	return e.message
}

func (e *scrubbedError) Unwrap() error {
	return e.original
}

// WrapError returns an error whose message has been passed through
// ScrubMessage. Returns nil for a nil input.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{original: err, message: ScrubMessage(err.Error())}
}
