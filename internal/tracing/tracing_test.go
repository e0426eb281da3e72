package tracing

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestDisabledTracingIsNoop(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.Equal(t, "", W3CTraceparent(ctx))

	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	InjectTraceparent(ctx, req)
	assert.Empty(t, req.Header.Get("traceparent"))
}

func TestTraceparentFromRecordedSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("test")
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tracer = otel.Tracer(defaultServiceName)
	})

	ctx, span := StartHTTPSpan(context.Background(), http.MethodPost, "https://openrouter.ai/api/v1/chat/completions")
	req, _ := http.NewRequest(http.MethodPost, "http://example.invalid", nil)
	InjectTraceparent(ctx, req)
	EndWithError(span, errors.New("upstream failed"))

	assert.Regexp(t, regexp.MustCompile(`^00-[0-9a-f]{32}-[0-9a-f]{16}-01$`), req.Header.Get("traceparent"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "HTTP POST", ended[0].Name())
	assert.Len(t, ended[0].Events(), 1)
}
