package logging

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newTestLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(buf),
		zap.NewAtomicLevelAt(zapcore.DebugLevel),
	)
	return NewFromZap(zap.New(core)), buf
}

func TestLoggerLevels(t *testing.T) {
	testLogger, buf := newTestLogger(t)

	testLogger.Debug("debug message")
	testLogger.Info("info message")
	testLogger.Warn("warning message")
	testLogger.Error("error message")

	output := buf.String()
	for _, want := range []string{
		"debug message", "info message", "warning message", "error message",
		`"level":"debug"`, `"level":"info"`, `"level":"warn"`, `"level":"error"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("%s not found in logs", want)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	testLogger, buf := newTestLogger(t)

	testLogger.Info("channel opened", Fields{
		"session_id": "abc",
		"open":       2,
	}, Fields{"err": errors.New("boom")})

	output := buf.String()
	if !strings.Contains(output, `"session_id":"abc"`) {
		t.Error("session_id field not found in logs")
	}
	if !strings.Contains(output, `"open":2`) {
		t.Error("open field not found in logs")
	}
	if !strings.Contains(output, `"err":"boom"`) {
		t.Error("error field not encoded as message")
	}
}

func TestLoggerNamedAndWith(t *testing.T) {
	testLogger, buf := newTestLogger(t)

	testLogger.Named("dispatcher").With(Fields{"tool": "query-ip"}).Info("invoked")

	output := buf.String()
	if !strings.Contains(output, `"logger":"dispatcher"`) {
		t.Error("logger name not found in logs")
	}
	if !strings.Contains(output, `"tool":"query-ip"`) {
		t.Error("tool field not found in logs")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: DebugLevel, InitialFields: Fields{"service": "ip-geolocation"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger == nil {
		t.Fatal("New() returned nil logger")
	}

	if _, err := New(Config{OutputPaths: []string{"/invalid/path/that/doesnt/exist/log"}}); err == nil {
		t.Error("New() with invalid output path should fail")
	}
}

func TestMiddlewareStoresLogger(t *testing.T) {
	testLogger, buf := newTestLogger(t)

	var fromCtx *Logger
	h := Middleware(testLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message", nil))

	if fromCtx == nil || fromCtx == Default() {
		t.Fatal("request logger not stored in context")
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(buf.String(), `"status":202`) {
		t.Error("completed request not logged with status")
	}
}
