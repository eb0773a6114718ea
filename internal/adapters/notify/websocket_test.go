package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/cognicare/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func dial(srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

// waitFor polls cond until it holds or a second passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestWebSocketHandler(t *testing.T) {
	ctx := context.Background()

	Convey("Given a websocket endpoint backed by a registry", t, func() {
		reg := NewRegistry()
		srv := httptest.NewServer(NewHandler(reg, WithWriteTimeout(time.Second)))
		defer srv.Close()

		Convey("When a client connects without a subject", func() {
			_, resp, err := dial(srv, "")

			Convey("Then the upgrade is refused", func() {
				So(err, ShouldNotBeNil)
				So(resp, ShouldNotBeNil)
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When a client connects for a subject", func() {
			conn, _, err := dial(srv, "?email=parent@example.com")
			So(err, ShouldBeNil)
			defer conn.Close()
			So(waitFor(func() bool { return reg.Sessions(parent) == 1 }), ShouldBeTrue)

			Convey("Then notifications arrive as text frames", func() {
				evt := model.ReportReady{Type: model.ReportReadyType, RecordID: 9, Report: "ok"}
				payload, _ := evt.Encode()
				So(reg.Notify(ctx, parent, payload), ShouldEqual, 1)

				_ = conn.SetReadDeadline(time.Now().Add(time.Second))
				mt, data, err := conn.ReadMessage()
				So(err, ShouldBeNil)
				So(mt, ShouldEqual, websocket.TextMessage)

				back, err := model.DecodeReportReady(data)
				So(err, ShouldBeNil)
				So(back.RecordID, ShouldEqual, 9)
			})

			Convey("Then client frames are ignored and the session stays registered", func() {
				So(conn.WriteMessage(websocket.TextMessage, []byte("ping")), ShouldBeNil)
				time.Sleep(20 * time.Millisecond)
				So(reg.Sessions(parent), ShouldEqual, 1)
			})

			Convey("Then closing the client removes the subject", func() {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				So(waitFor(func() bool { return reg.Subjects() == 0 }), ShouldBeTrue)
			})
		})
	})

	Convey("Given an origin allow list", t, func() {
		reg := NewRegistry()
		srv := httptest.NewServer(NewHandler(reg, WithAllowedOrigins([]string{"https://app.example"})))
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?email=a@example.com"
		_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})

		So(err, ShouldNotBeNil)
		So(resp.StatusCode, ShouldEqual, http.StatusForbidden)
	})
}

func TestWebSocketSessionStates(t *testing.T) {
	Convey("Given a session over a live connection", t, func() {
		serverSide := make(chan *WebSocketSession, 1)
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			serverSide <- NewWebSocketSession(conn, time.Second)
		}))
		defer srv.Close()

		client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		So(err, ShouldBeNil)
		defer client.Close()
		s := <-serverSide

		So(s.State(), ShouldEqual, model.SessionConnecting)
		s.MarkOpen()
		So(s.State(), ShouldEqual, model.SessionOpen)

		Convey("When the session is closed", func() {
			So(s.Close(), ShouldBeNil)

			Convey("Then it is terminal", func() {
				So(s.State(), ShouldEqual, model.SessionClosed)
				s.MarkOpen()
				So(s.State(), ShouldEqual, model.SessionClosed)
				So(s.Send(context.Background(), []byte("x")), ShouldEqual, ErrSessionClosed)
				So(s.Close(), ShouldBeNil)
			})
		})
	})
}
