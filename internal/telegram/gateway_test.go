package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/amirbiron/Tfilin/internal/domain"
)

const getMeJSON = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"test","username":"testbot"}}`
const sentJSON = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`

// botServer stubs the Bot API. sendMessage behavior is swappable per test;
// getMe always succeeds so the client constructor passes.
type botServer struct {
	srv   *httptest.Server
	sends atomic.Int64
	reply atomic.Value // func(w http.ResponseWriter)
}

func newBotServer(t *testing.T) (*botServer, *Gateway) {
	t.Helper()
	bs := &botServer{}
	bs.reply.Store(func(w http.ResponseWriter) { _, _ = w.Write([]byte(sentJSON)) })

	bs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(getMeJSON))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			bs.sends.Add(1)
			bs.reply.Load().(func(http.ResponseWriter))(w)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(bs.srv.Close)

	bot, err := tgbotapi.NewBotAPIWithClient("test-token", bs.srv.URL+"/bot%s/%s",
		&http.Client{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return bs, NewGateway(bot, zaptest.NewLogger(t))
}

func (bs *botServer) replyError(code int, description string) {
	body := fmt.Sprintf(`{"ok":false,"error_code":%d,"description":%q}`, code, description)
	bs.reply.Store(func(w http.ResponseWriter) { _, _ = w.Write([]byte(body)) })
}

func TestSend_Delivers(t *testing.T) {
	bs, gw := newBotServer(t)

	err := gw.Send(context.Background(), 5, domain.IntentDaily, "tok-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), bs.sends.Load())
}

func TestSend_DuplicateTokenSuppressed(t *testing.T) {
	bs, gw := newBotServer(t)
	ctx := context.Background()

	require.NoError(t, gw.Send(ctx, 5, domain.IntentDaily, "tok-1"))
	require.NoError(t, gw.Send(ctx, 5, domain.IntentDaily, "tok-1"))
	require.Equal(t, int64(1), bs.sends.Load(), "second dispatch with the same token must not reach the API")
}

func TestSend_BlockedRecipient(t *testing.T) {
	bs, gw := newBotServer(t)
	bs.replyError(403, "Forbidden: bot was blocked by the user")

	err := gw.Send(context.Background(), 5, domain.IntentDaily, "tok-1")
	require.ErrorIs(t, err, domain.ErrRecipientBlocked)
}

func TestSend_DefiniteFailureRetriesToUser(t *testing.T) {
	bs, gw := newBotServer(t)
	ctx := context.Background()

	// The API answers with an error: the message was definitely not
	// delivered, so the same token must go out again on retry.
	bs.replyError(500, "Internal Server Error")
	err := gw.Send(ctx, 5, domain.IntentDaily, "tok-1")
	require.Error(t, err)

	bs.reply.Store(func(w http.ResponseWriter) { _, _ = w.Write([]byte(sentJSON)) })
	require.NoError(t, gw.Send(ctx, 5, domain.IntentDaily, "tok-1"))
	require.Equal(t, int64(2), bs.sends.Load())
}

func TestSend_DeadlineEnforced(t *testing.T) {
	bs, gw := newBotServer(t)
	bs.reply.Store(func(w http.ResponseWriter) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte(sentJSON))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := gw.Send(ctx, 5, domain.IntentDaily, "tok-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 400*time.Millisecond,
		"a hung API call must not stall the dispatch loop")

	// The timed-out send may still have been accepted by the API, so the
	// token stays recorded and a retry is suppressed.
	require.NoError(t, gw.Send(context.Background(), 5, domain.IntentDaily, "tok-1"))
	require.Equal(t, int64(1), bs.sends.Load())
}
