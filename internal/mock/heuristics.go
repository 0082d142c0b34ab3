package mock

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const idPrefix = "example-id-"

// stringRule maps property names containing any of match to a value.
type stringRule struct {
	match []string
	value func(g *Generator, seed string) string
}

func constant(s string) func(*Generator, string) string {
	return func(*Generator, string) string { return s }
}

func timestamp(g *Generator, _ string) string { return g.Reference.Format(time.RFC3339) }

// stringRules are checked in order against the lower-cased property name.
var stringRules = []stringRule{
	{[]string{"email", "mail"}, constant("user@example.com")},
	{[]string{"avatar", "image", "photo", "picture"}, constant("https://example.com/avatar.png")},
	{[]string{"url", "uri", "link", "href", "website"}, constant("https://example.com")},
	{[]string{"phone", "mobile"}, constant("+1-555-123-4567")},
	{[]string{"firstname", "first_name", "givenname"}, constant("John")},
	{[]string{"lastname", "last_name", "surname", "familyname"}, constant("Doe")},
	{[]string{"company", "organization", "organisation"}, constant("Example Corp")},
	{[]string{"name"}, constant("John Doe")},
	{[]string{"city", "town"}, constant("New York")},
	{[]string{"country"}, constant("United States")},
	{[]string{"zip", "postal"}, constant("10001")},
	{[]string{"address", "street"}, constant("123 Main Street")},
	{[]string{"title", "subject", "headline"}, constant("Example Title")},
	{[]string{"description", "summary"}, constant("This is an example description.")},
	{[]string{"message", "body", "content", "text"}, constant("This is an example message.")},
	{[]string{"status", "state"}, constant("active")},
	{[]string{"timezone"}, constant("America/New_York")},
	{[]string{"locale", "lang"}, constant("en-US")},
	{[]string{"date", "time", "created", "updated", "timestamp"}, timestamp},
	{[]string{"currency"}, constant("USD")},
	{[]string{"color", "colour"}, constant("#3B82F6")},
	{[]string{"password", "token", "secret"}, constant("example-secret")},
}

func (g *Generator) stringFor(key, format, seed string) string {
	switch format {
	case "email", "idn-email":
		return "user@example.com"
	case "uri", "url", "uri-reference", "iri", "iri-reference":
		return "https://example.com"
	case "uri-template":
		return "https://example.com/{id}"
	case "hostname", "idn-hostname":
		return "example.com"
	case "ipv4":
		return "192.0.2.1"
	case "ipv6":
		return "2001:db8::1"
	case "duration":
		return "P1D"
	case "json-pointer":
		return "/example"
	case "relative-json-pointer":
		return "0"
	case "regex":
		return "^example$"
	case "uuid":
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
	case "date-time":
		return g.Reference.Format(time.RFC3339)
	case "date":
		return g.Reference.Format(time.DateOnly)
	case "time":
		return g.Reference.Format("15:04:05Z07:00")
	}

	if isIDKey(key) {
		return idToken(seed)
	}
	lower := strings.ToLower(key)
	for _, rule := range stringRules {
		if containsAny(lower, rule.match) {
			return rule.value(g, seed)
		}
	}
	return "example text"
}

// isIDKey matches "id", "userId", "user_id", "ID" suffixes and uuid/guid keys.
func isIDKey(key string) bool {
	lower := strings.ToLower(key)
	return lower == "id" ||
		strings.HasSuffix(key, "Id") ||
		strings.HasSuffix(key, "ID") ||
		strings.HasSuffix(lower, "_id") ||
		containsAny(lower, []string{"uuid", "guid"})
}

// idToken derives a short stable token from seed.
func idToken(seed string) string {
	return idPrefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()[:8]
}

func numberFor(key string, integer bool) float64 {
	lower := strings.ToLower(key)
	var v float64
	switch {
	case containsAny(lower, []string{"percent", "rate"}):
		v = 15
	case lower == "age" || strings.HasSuffix(key, "Age") || strings.HasSuffix(lower, "_age"):
		v = 25
	case containsAny(lower, []string{"count", "quantity", "qty"}):
		v = 5
	case containsAny(lower, []string{"price", "amount", "cost", "total"}):
		v = 99.99
	case containsAny(lower, []string{"size"}):
		v = 100.5
	default:
		v = 42.5
	}
	if integer {
		return float64(int64(v))
	}
	return v
}

func booleanFor(key string) bool {
	return !containsAny(strings.ToLower(key), []string{"disabled", "deleted", "archived"})
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
