package dto

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// GooglePushEnvelope is the Pub/Sub push wrapper delivered to the Gmail
// webhook. Data is a base64-encoded JSON notification.
type GooglePushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GmailNotification is the decoded payload: an opaque account identifier plus
// the new watermark. The actual messages are fetched via the history API.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// DecodeNotification unwraps the base64 data field.
func (e *GooglePushEnvelope) DecodeNotification() (*GmailNotification, error) {
	if e.Message.Data == "" {
		return nil, errors.New("pubsub envelope has no data")
	}
	raw, err := base64.StdEncoding.DecodeString(e.Message.Data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 in pubsub data")
	}
	var notification GmailNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		return nil, errors.Wrap(err, "invalid notification payload")
	}
	if notification.EmailAddress == "" {
		return nil, errors.New("notification missing emailAddress")
	}
	return &notification, nil
}
