package procedures

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/kalambet/markd/internal/rpc"
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func invalid(field, msg string) error {
	return &rpc.ValidationError{Field: field, Message: msg}
}

func requireString(field, value, msg string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, msg)
	}
	return nil
}

func checkURL(field, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid(field, "Please enter a valid URL")
	}
	return nil
}

func checkRating(rating *int) error {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return invalid("rating", "Rating must be between 1 and 5")
	}
	return nil
}

func checkColor(color string) error {
	if color != "" && !hexColor.MatchString(color) {
		return invalid("color", "Color must be a hex value like #1e90ff")
	}
	return nil
}

func checkTagID(field string, id int64) error {
	if id < 1 {
		return invalid(field, "Tag ID is required")
	}
	return nil
}

// validator decodes the payload and then applies check.
func validator[In any](check func(*In) error) rpc.Validator[In] {
	return func(raw json.RawMessage) (In, error) {
		in, err := rpc.Decode[In](raw)
		if err != nil {
			return in, err
		}
		if err := check(&in); err != nil {
			var zero In
			return zero, err
		}
		return in, nil
	}
}
