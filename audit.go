package authcore

import (
	"io"

	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// AuditEvent is one audited outcome. Events are emitted after the
// transaction that produced them commits.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's background dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs audit events through zap.
type ZapSink = internalaudit.ZapSink

// NewChannelSink returns a sink whose Events channel holds up to buffer events.
func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return internalaudit.NewJSONWriterSink(w) }

// NewZapSink returns a sink logging to logger.
func NewZapSink(logger *zap.Logger) *ZapSink { return internalaudit.NewZapSink(logger) }
