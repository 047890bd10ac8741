// Package lark delivers notifications as Lark IM messages.
package lark

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Config holds Lark client configuration
type Config struct {
	AppID     string
	AppSecret string
	// ReceiveIDType is how agent contact ids are interpreted (open_id, user_id, email)
	ReceiveIDType string
}

// Sender sends one text message
type Sender interface {
	SendText(ctx context.Context, receiveID, text string) (string, error)
}

// Messenger sends IM messages through the Lark SDK
type Messenger struct {
	client        *lark.Client
	receiveIDType string
	logger        *zap.Logger
}

// NewMessenger creates a messenger from app credentials
func NewMessenger(cfg Config, logger *zap.Logger) *Messenger {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	idType := cfg.ReceiveIDType
	if idType == "" {
		idType = "open_id"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		client:        client,
		receiveIDType: idType,
		logger:        logger.Named("lark"),
	}
}

// SendText sends a text message and returns the message id
func (m *Messenger) SendText(ctx context.Context, receiveID, text string) (string, error) {
	if receiveID == "" {
		return "", fmt.Errorf("receive id cannot be empty")
	}
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(m.receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := m.client.Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Debug("Message sent",
		zap.String("message_id", messageID),
		zap.String("receive_id", receiveID))
	return messageID, nil
}
