//go:build !integration

package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWith_AttachesContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "t-1")
	ctx = WithTgID(ctx, 42)
	ctx = WithChatID(ctx, -100)

	With(ctx, &base).Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"t-1"`)
	assert.Contains(t, out, `"tg_id":42`)
	assert.Contains(t, out, `"chat_id":-100`)
	assert.Equal(t, "t-1", TraceID(ctx))
}

func TestWith_EmptyContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	With(context.Background(), &base).Info().Msg("x")
	assert.NotContains(t, buf.String(), "trace_id")
	assert.Empty(t, TraceID(context.Background()))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "123456:ABCDEF", Redact("123456:ABCDEF", true))
	assert.Equal(t, "***", Redact("short", false))
	assert.Equal(t, "1234...EF", Redact("123456:ABCDEF", false))
}
