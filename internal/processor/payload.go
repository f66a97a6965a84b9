package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

// ID is an identifier that arrives as a JSON string or integer and is always
// handled as a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	// Integers only; floats and exponents would silently lose digits.
	if _, err := strconv.ParseInt(string(b), 10, 64); err != nil {
		if _, uerr := strconv.ParseUint(string(b), 10, 64); uerr != nil {
			return fmt.Errorf("id %s is not a string or integer", b)
		}
	}
	*id = ID(b)
	return nil
}

func (id ID) String() string { return string(id) }

// Time is an RFC 3339 timestamp. Empty and null decode to the zero value.
type Time struct{ time.Time }

func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// ptr returns nil for the zero time.
func (t Time) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// decode unmarshals a payload and marks malformed input as invalid.
func decode(payload []byte, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, domain.ErrInvalidInput)
	}
	return nil
}

type keyPayload struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	UserID ID     `json:"user_id"`
}

// OrderingKey returns the key that serializes jobs of one entity: the order
// number for orders, the product or customer id, the user id for rankings.
func OrderingKey(typ string, payload []byte) string {
	var p keyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	switch typ {
	case domain.TypeOrders:
		if p.Name != "" {
			return p.Name
		}
		return p.ID.String()
	case domain.TypeProducts, domain.TypeCustomers:
		return p.ID.String()
	case domain.TypeRankings:
		return p.UserID.String()
	}
	return ""
}

// action returns the topic suffix: "orders/create" becomes "create".
func action(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// topicType returns the topic prefix: "orders/create" becomes "orders".
func topicType(topic string) string {
	typ, _, _ := strings.Cut(topic, "/")
	return typ
}
