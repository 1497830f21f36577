package gmail

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/config"
	customerrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
)

func testAdapter() *Adapter {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return NewAdapter(&config.GoogleOAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		PubSubTopic:  "projects/test/topics/gmail",
	}, appLogger)
}

func encodeBody(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func rawFromMessage(t *testing.T, msg *gmailv1.Message) interfaces.RawItem {
	t.Helper()
	raw, err := rawItemFromMessage(msg)
	require.NoError(t, err)
	return raw
}

func TestNormalize_PlainTextMessage(t *testing.T) {
	a := testAdapter()

	msg := &gmailv1.Message{
		Id:       "msg-1",
		LabelIds: []string{"UNREAD", "INBOX", "CATEGORY_PERSONAL"},
		Payload: &gmailv1.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailv1.MessagePartHeader{
				{Name: "Subject", Value: "Re: quarterly numbers"},
				{Name: "From", Value: "Ada <ada@example.com>"},
			},
			Body: &gmailv1.MessagePartBody{Data: encodeBody("see attached")},
		},
	}

	item, err := a.Normalize(rawFromMessage(t, msg))
	require.NoError(t, err)
	assert.Equal(t, "gmail-msg-1", item.UID)
	assert.Equal(t, "quarterly numbers", item.Title)
	assert.Equal(t, "see attached", item.Body)
	assert.False(t, item.IsBodyHTML)
	assert.Equal(t, "Ada <ada@example.com>", item.Cause)
	assert.Equal(t, "message", item.Category)
}

func TestNormalize_PrefersHTMLPart(t *testing.T) {
	a := testAdapter()

	msg := &gmailv1.Message{
		Id: "msg-2",
		Payload: &gmailv1.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmailv1.MessagePartHeader{
				{Name: "Subject", Value: "hello"},
			},
			Parts: []*gmailv1.MessagePart{
				{MimeType: "text/plain", Body: &gmailv1.MessagePartBody{Data: encodeBody("plain")}},
				{MimeType: "text/html", Body: &gmailv1.MessagePartBody{Data: encodeBody("<b>rich</b>")}},
			},
		},
	}

	item, err := a.Normalize(rawFromMessage(t, msg))
	require.NoError(t, err)
	assert.Equal(t, "<b>rich</b>", item.Body)
	assert.True(t, item.IsBodyHTML)
}

func TestNormalize_MalformedPayload(t *testing.T) {
	a := testAdapter()

	_, err := a.Normalize(interfaces.RawItem{ID: "x", Payload: json.RawMessage(`{not json`)})
	assert.True(t, customerrors.IsMalformed(err))

	_, err = a.Normalize(interfaces.RawItem{ID: "x", Payload: json.RawMessage(`{}`)})
	assert.True(t, customerrors.IsMalformed(err))
}

func TestRawItemFromMessage_CollectsNestedAttachmentRefs(t *testing.T) {
	msg := &gmailv1.Message{
		Id: "msg-3",
		Payload: &gmailv1.MessagePart{
			Parts: []*gmailv1.MessagePart{
				{
					MimeType: "multipart/mixed",
					Parts: []*gmailv1.MessagePart{
						{
							Filename: "report.pdf",
							MimeType: "application/pdf",
							Body:     &gmailv1.MessagePartBody{AttachmentId: "att-1", Size: 1024},
						},
					},
				},
				{MimeType: "text/plain", Body: &gmailv1.MessagePartBody{Data: encodeBody("body")}},
			},
		},
	}

	raw := rawFromMessage(t, msg)
	assert.True(t, raw.HasAttachments)
	require.Len(t, raw.AttachmentRefs, 1)
	assert.Equal(t, "msg-3", raw.AttachmentRefs[0].ItemID)
	assert.Equal(t, "att-1", raw.AttachmentRefs[0].AttachmentID)
	assert.Equal(t, "report.pdf", raw.AttachmentRefs[0].Name)
}

func TestCursorAfter(t *testing.T) {
	a := testAdapter()

	assert.True(t, a.CursorAfter("200", "100"))
	assert.False(t, a.CursorAfter("100", "200"))
	assert.False(t, a.CursorAfter("100", "100"))
	assert.True(t, a.CursorAfter("100", ""))
	assert.False(t, a.CursorAfter("", "100"))
	assert.False(t, a.CursorAfter("garbage", "100"))
}
