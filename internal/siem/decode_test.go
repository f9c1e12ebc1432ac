package siem

import (
	"testing"
	"time"
)

const samplePayload = `{
  "queryEndTime": "2024-01-01T13:01:00Z",
  "messagesBlocked": [
    {
      "messageID": "<m1@example.com>",
      "spamScore": 4,
      "malwareScore": 100,
      "messageTime": "2024-01-01T12:30:00.000Z",
      "messageParts": [
        {"filename": "a.exe", "md5": "m", "sha256": "s", "sandboxStatus": "threat"},
        {"filename": "text.txt", "md5": "m2", "sha256": "s2"}
      ]
    }
  ],
  "messagesDelivered": [],
  "clicksBlocked": null
}`

func TestDecode(t *testing.T) {
	resp, err := Decode([]byte(samplePayload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	end, ok, err := resp.EndTime()
	if err != nil || !ok {
		t.Fatalf("EndTime ok=%v err=%v", ok, err)
	}
	if !end.Equal(time.Date(2024, 1, 1, 13, 1, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %s", end)
	}

	msgs, err := DecodeMessages(resp.Category(MessagesBlocked))
	if err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].MessageParts) != 2 {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !msgs[0].MalwareScore.Valid || msgs[0].MalwareScore.Value.IntPart() != 100 {
		t.Fatalf("malware score not decoded: %s", msgs[0].MalwareScore)
	}
	if ts, ok := msgs[0].Time(); !ok || !ts.Equal(time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)) {
		t.Fatalf("message time = %s ok=%v", ts, ok)
	}
	if msgs[0].MessageParts[0].SandboxStatus != "threat" {
		t.Fatalf("sandbox status not decoded")
	}

	for _, name := range []string{MessagesDelivered, ClicksBlocked, ClicksPermitted} {
		if name == MessagesDelivered {
			m, err := DecodeMessages(resp.Category(name))
			if err != nil || len(m) != 0 {
				t.Fatalf("%s: %v %v", name, m, err)
			}
			continue
		}
		c, err := DecodeClicks(resp.Category(name))
		if err != nil || len(c) != 0 {
			t.Fatalf("%s: %v %v", name, c, err)
		}
	}
}

func TestDecodeMessagesToleratesOddMetadata(t *testing.T) {
	raw := []byte(`[
		{"messageTime": "", "spamScore": "", "phishScore": "87", "recipient": "a@example.com",
		 "messageParts": [{"sandboxStatus": "threat", "sha256": "s"}]},
		{"subject": 42, "malwareScore": {"x": 1}, "messageTime": "soon",
		 "messageParts": [{"sandboxStatus": "clean", "sha256": "s2"}]}
	]`)

	msgs, err := DecodeMessages(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	first := msgs[0]
	if first.MetadataErr != nil || first.SpamScore.Valid || first.SpamScore.String() != "" {
		t.Fatalf("first message = %+v", first)
	}
	if !first.PhishScore.Valid || first.PhishScore.Value.IntPart() != 87 {
		t.Fatalf("numeric string score not decoded: %+v", first.PhishScore)
	}
	if len(first.Recipient) != 1 || first.Recipient[0] != "a@example.com" {
		t.Fatalf("recipient = %v", first.Recipient)
	}
	if _, ok := first.Time(); ok {
		t.Fatal("empty message time must not parse")
	}

	second := msgs[1]
	if second.MetadataErr == nil {
		t.Fatal("expected metadata error for a numeric subject")
	}
	if len(second.MessageParts) != 1 || second.MessageParts[0].SHA256 != "s2" {
		t.Fatalf("parts must survive bad metadata: %+v", second.MessageParts)
	}
}

func TestDecodeMessagesRejectsBadParts(t *testing.T) {
	for _, raw := range []string{
		`{"not": "an array"}`,
		`["not an object"]`,
		`[{"messageParts": {"sha256": "s"}}]`,
		`[{"messageParts": [{"sha256": 7}]}]`,
	} {
		if _, err := DecodeMessages([]byte(raw)); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

func TestDecodeClicksToleratesOddFields(t *testing.T) {
	clicks, err := DecodeClicks([]byte(`[{"clickTime": "", "url": "https://x"}, {"clickTime": 5}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(clicks) != 2 || clicks[0].URL != "https://x" {
		t.Fatalf("clicks = %+v", clicks)
	}
	if _, ok := clicks[0].Time(); ok {
		t.Fatal("empty click time must not parse")
	}
	if _, err := DecodeClicks([]byte(`"nope"`)); err == nil {
		t.Fatal("expected error for a non-array category")
	}
}

func TestDecodeRejectsNonObjects(t *testing.T) {
	for _, body := range []string{"", "   ", "[]", "<html>nope</html>", `{"queryEndTime": 5`} {
		if _, err := Decode([]byte(body)); err == nil {
			t.Errorf("expected error for %q", body)
		}
	}
}

func TestEndTimeMissing(t *testing.T) {
	resp, err := Decode([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := resp.EndTime(); ok || err != nil {
		t.Fatalf("missing queryEndTime should be absent, ok=%v err=%v", ok, err)
	}

	resp.QueryEndTime = "not-a-time"
	if _, _, err := resp.EndTime(); err == nil {
		t.Fatal("invalid queryEndTime should fail")
	}
}

func TestDecodeMessagesMalformed(t *testing.T) {
	if _, err := DecodeMessages([]byte(`{"messageID":"x"}`)); err == nil {
		t.Fatal("an object where an array is expected should fail")
	}
}
