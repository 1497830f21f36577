package gmail

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/servcy/inboxstack/interfaces"
	customerrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/utils"
)

func rawItemFromMessage(msg *gmailv1.Message) (interfaces.RawItem, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return interfaces.RawItem{}, err
	}

	refs := attachmentRefs(msg)
	return interfaces.RawItem{
		ID:             msg.Id,
		Payload:        payload,
		HasAttachments: len(refs) > 0,
		AttachmentRefs: refs,
	}, nil
}

func attachmentRefs(msg *gmailv1.Message) []interfaces.AttachmentRef {
	if msg.Payload == nil {
		return nil
	}

	var refs []interfaces.AttachmentRef
	var walk func(parts []*gmailv1.MessagePart)
	walk = func(parts []*gmailv1.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.AttachmentId != "" && part.Filename != "" {
				refs = append(refs, interfaces.AttachmentRef{
					ItemID:       msg.Id,
					AttachmentID: part.Body.AttachmentId,
					Name:         part.Filename,
					MimeType:     part.MimeType,
					Size:         part.Body.Size,
				})
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(msg.Payload.Parts)
	return refs
}

// Normalize maps a raw Gmail message into the canonical inbox item. The uid
// is the provider message id scoped by provider name.
func (a *Adapter) Normalize(raw interfaces.RawItem) (*models.InboxItem, error) {
	var msg gmailv1.Message
	if err := json.Unmarshal(raw.Payload, &msg); err != nil {
		return nil, customerrors.ErrMalformed
	}
	if msg.Id == "" || msg.Payload == nil {
		return nil, customerrors.ErrMalformed
	}

	from := header(msg.Payload.Headers, "From")
	subject := header(msg.Payload.Headers, "Subject")
	body, isHTML := messageBody(msg.Payload)
	if subject == "" && body == "" {
		return nil, customerrors.ErrMalformed
	}

	return &models.InboxItem{
		UID:        fmt.Sprintf("gmail-%s", msg.Id),
		Title:      utils.NormalizeTitle(subject),
		Body:       body,
		IsBodyHTML: isHTML,
		Cause:      from,
		Category:   "message",
		Labels:     pq.StringArray(msg.LabelIds),
	}, nil
}

func header(headers []*gmailv1.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// messageBody prefers the html part and falls back to plain text.
func messageBody(payload *gmailv1.MessagePart) (string, bool) {
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody, plainBody string
	var walk func(parts []*gmailv1.MessagePart)
	walk = func(parts []*gmailv1.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				data, err := base64.URLEncoding.DecodeString(part.Body.Data)
				if err != nil {
					continue
				}
				switch part.MimeType {
				case "text/html":
					if htmlBody == "" {
						htmlBody = string(data)
					}
				case "text/plain":
					if plainBody == "" {
						plainBody = string(data)
					}
				}
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)

	if htmlBody != "" {
		return htmlBody, true
	}
	return plainBody, false
}
