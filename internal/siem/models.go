package siem

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category names of the SIEM payload, in extraction order.
const (
	MessagesBlocked   = "messagesBlocked"
	MessagesDelivered = "messagesDelivered"
	ClicksBlocked     = "clicksBlocked"
	ClicksPermitted   = "clicksPermitted"
)

// Categories lists every event category in the order they are processed.
var Categories = []string{MessagesBlocked, MessagesDelivered, ClicksBlocked, ClicksPermitted}

// Response is the top-level SIEM payload. Categories stay raw until the
// extractor walks them.
type Response struct {
	QueryEndTime      string          `json:"queryEndTime"`
	MessagesBlocked   json.RawMessage `json:"messagesBlocked"`
	MessagesDelivered json.RawMessage `json:"messagesDelivered"`
	ClicksBlocked     json.RawMessage `json:"clicksBlocked"`
	ClicksPermitted   json.RawMessage `json:"clicksPermitted"`
}

// Category returns the raw events for one category name.
func (r *Response) Category(name string) json.RawMessage {
	switch name {
	case MessagesBlocked:
		return r.MessagesBlocked
	case MessagesDelivered:
		return r.MessagesDelivered
	case ClicksBlocked:
		return r.ClicksBlocked
	case ClicksPermitted:
		return r.ClicksPermitted
	}
	return nil
}

// Message is one message event. Only MessageParts is decoded strictly; the
// remaining fields are diagnostic and tolerate odd values.
type Message struct {
	MessageID     string     `json:"messageID"`
	GUID          string     `json:"GUID"`
	QID           string     `json:"QID"`
	Sender        string     `json:"sender"`
	Recipient     Recipients `json:"recipient"`
	Subject       string     `json:"subject"`
	MessageTime   string     `json:"messageTime"`
	SpamScore     Score      `json:"spamScore"`
	PhishScore    Score      `json:"phishScore"`
	ImpostorScore Score      `json:"impostorScore"`
	MalwareScore  Score      `json:"malwareScore"`
	MessageParts  []Part     `json:"messageParts"`

	// MetadataErr is set when the diagnostic fields could not be decoded.
	MetadataErr error `json:"-"`
}

// Time parses MessageTime. ok is false when it is empty or unparseable.
func (m Message) Time() (time.Time, bool) {
	return parseEventTime(m.MessageTime)
}

// Part is an attachment or body part of a message.
type Part struct {
	Disposition   string `json:"disposition"`
	ContentType   string `json:"contentType"`
	OContentType  string `json:"oContentType"`
	Filename      string `json:"filename"`
	MD5           string `json:"md5"`
	SHA256        string `json:"sha256"`
	SandboxStatus string `json:"sandboxStatus"`
}

// Click is one click event. Clicks carry no file verdicts yet.
type Click struct {
	URL            string     `json:"url"`
	ClickIP        string     `json:"clickIP"`
	ClickTime      string     `json:"clickTime"`
	Recipient      string     `json:"recipient"`
	Sender         string     `json:"sender"`
	ThreatID       string     `json:"threatID"`
	ThreatStatus   string     `json:"threatStatus"`
	Classification string     `json:"classification"`
	MessageID      string     `json:"messageID"`
	GUID           string     `json:"GUID"`
}

// Time parses ClickTime. ok is false when it is empty or unparseable.
func (c Click) Time() (time.Time, bool) {
	return parseEventTime(c.ClickTime)
}

// Score is a numeric verdict score. Numbers and numeric strings decode;
// null, empty and anything else leave it unset.
type Score struct {
	Value decimal.Decimal
	Valid bool
}

func (s *Score) UnmarshalJSON(data []byte) error {
	*s = Score{}
	text := string(bytes.TrimSpace(data))
	if strings.HasPrefix(text, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		text = strings.TrimSpace(str)
	}
	value, err := decimal.NewFromString(text)
	if err != nil {
		return nil
	}
	*s = Score{Value: value, Valid: true}
	return nil
}

// String renders the score, or "" when unset.
func (s Score) String() string {
	if !s.Valid {
		return ""
	}
	return s.Value.String()
}

// Recipients accepts a list of addresses or a single address. Other shapes
// decode as empty.
type Recipients []string

func (r *Recipients) UnmarshalJSON(data []byte) error {
	*r = nil
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil && one != "" {
		*r = Recipients{one}
	}
	return nil
}

func parseEventTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
