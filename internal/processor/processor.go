// Package processor is the downstream edge of the engine: resolved changes
// are handed off here and what happens to the documents afterwards is someone
// else's concern.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

// Processor accepts one resolved change. An error means the handoff did not
// happen and the caller must not advance the channel cursor past it.
type Processor interface {
	Process(ctx context.Context, change model.ResolvedChange) error
}

// message is the published payload shape. Field names are part of the
// contract with downstream consumers.
type message struct {
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FolderID     string `json:"folder_id"`
	OwnerEmail   string `json:"owner_email"`
	WebViewLink  string `json:"web_view_link,omitempty"`
	CreatedTime  string `json:"created_time"`
	ModifiedTime string `json:"modified_time"`
}

// PubSub publishes each resolved change as one Pub/Sub message.
type PubSub struct {
	topic  *pubsub.Topic
	logger *slog.Logger
}

// NewPubSub builds a processor publishing to topic.
func NewPubSub(topic *pubsub.Topic, logger *slog.Logger) *PubSub {
	return &PubSub{topic: topic, logger: logger.With("component", "processor")}
}

func (p *PubSub) Process(ctx context.Context, change model.ResolvedChange) error {
	data, err := json.Marshal(message{
		FileID:       change.FileID,
		FileName:     change.FileName,
		MimeType:     change.MimeType,
		FolderID:     change.FolderID,
		OwnerEmail:   change.UserEmail,
		WebViewLink:  change.WebViewLink,
		CreatedTime:  change.CreatedTime.UTC().Format(time.RFC3339),
		ModifiedTime: change.ModifiedTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return faults.Wrap(faults.KindUnknown, "processor.publish", "unable to encode message", err)
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"owner_email": change.UserEmail,
		},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return faults.Wrap(faults.KindTransient, "processor.publish", "publish failed", err)
	}

	p.logger.Info("published resolved change",
		"file_id", change.FileID,
		"user", change.UserEmail,
		"message_id", id)
	return nil
}

// Log is the dev-mode processor: it only logs the resolved change.
type Log struct {
	logger *slog.Logger
}

// NewLog builds a logging processor.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "processor")}
}

func (p *Log) Process(_ context.Context, change model.ResolvedChange) error {
	p.logger.Info("resolved change",
		"file_id", change.FileID,
		"file_name", change.FileName,
		"user", change.UserEmail,
		"folder_id", change.FolderID,
		"created_time", change.CreatedTime.UTC().Format(time.RFC3339))
	return nil
}
