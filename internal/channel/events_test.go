package channel

import (
	"testing"

	"github.com/dmoroz/marketchat/internal/model"
)

func TestDecodeMessageNew(t *testing.T) {
	raw := `{"type":"message:new","message":{"id":12,"chatId":3,"senderId":8,"type":"text","body":"hi","createdAt":1700000000000,"meta":{"clientMessageId":"cid-1"}}}`
	evt, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	mn, ok := evt.(model.MessageNew)
	if !ok {
		t.Fatalf("event type = %T, want MessageNew", evt)
	}
	if mn.Message.ID != 12 || mn.Message.ChatID != 3 || mn.Message.ClientMessageID() != "cid-1" {
		t.Errorf("message = %+v", mn.Message)
	}
	if mn.Message.Type != model.TypeText {
		t.Errorf("message type = %q, want text (envelope tag must not clobber it)", mn.Message.Type)
	}
}

func TestDecodeChatRead(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"chat:read","chatId":3,"userId":8,"messageId":44}`))
	if err != nil {
		t.Fatal(err)
	}
	cr, ok := evt.(model.ChatRead)
	if !ok {
		t.Fatalf("event type = %T, want ChatRead", evt)
	}
	if cr.ChatID != 3 || cr.UserID != 8 || cr.MessageID != 44 {
		t.Errorf("event = %+v", cr)
	}
}

func TestDecodeTyping(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"typing","chatId":3,"userId":8,"isTyping":true}`))
	if err != nil {
		t.Fatal(err)
	}
	ty, ok := evt.(model.Typing)
	if !ok {
		t.Fatalf("event type = %T, want Typing", evt)
	}
	if !ty.IsTyping || ty.ChatID != 3 {
		t.Errorf("event = %+v", ty)
	}
}

func TestDecodeChatCreated(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"chat:created","chat":{"id":9,"counterpartId":5,"counterpartName":"Anna","createdAt":1700000000000}}`))
	if err != nil {
		t.Fatal(err)
	}
	cc, ok := evt.(model.ChatCreated)
	if !ok {
		t.Fatalf("event type = %T, want ChatCreated", evt)
	}
	if cc.Chat.ID != 9 || cc.Chat.CounterpartName != "Anna" {
		t.Errorf("chat = %+v", cc.Chat)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"presence:ghost"}`)); err == nil {
		t.Fatal("unknown event type should error")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"message:new"}`,
		`{"type":"message:new","id":0,"chatId":3}`,
	}
	for _, raw := range cases {
		if _, err := DecodeEvent([]byte(raw)); err == nil {
			t.Errorf("DecodeEvent(%q) should error", raw)
		}
	}
}

func TestEncodeTypingRoundTrip(t *testing.T) {
	data, err := EncodeTyping(model.Typing{ChatID: 3, UserID: 8, IsTyping: true})
	if err != nil {
		t.Fatal(err)
	}
	evt, err := DecodeEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	ty, ok := evt.(model.Typing)
	if !ok || !ty.IsTyping || ty.ChatID != 3 || ty.UserID != 8 {
		t.Errorf("round trip = %+v", evt)
	}
}
