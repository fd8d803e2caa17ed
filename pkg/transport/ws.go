package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ws is the websocket carrier, grounded directly on the teacher's
// wsrelay session: a write-mutex-guarded connection with a read/write
// deadline and ping/pong keepalive, generalized from JSON text frames
// bearing an application-level envelope to raw BinaryMessage frames
// bearing our own length-free wire.Message bytes (a websocket frame is
// already message-delimited, so no length prefix is needed here).
const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type wsConn struct {
	c          *websocket.Conn
	writeMutex sync.Mutex
	id         string
	closed     chan struct{}
	closeOnce  sync.Once
}

func newWSConn(c *websocket.Conn) *wsConn {
	w := &wsConn{c: c, id: uuid.NewString(), closed: make(chan struct{})}
	c.SetReadLimit(64 << 20)
	c.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})
	go w.heartbeat()
	return w
}

func (w *wsConn) heartbeat() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.closed:
			return
		case <-ticker.C:
			w.writeMutex.Lock()
			err := w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			w.writeMutex.Unlock()
			if err != nil {
				w.Close()
				return
			}
		}
	}
}

func (w *wsConn) Send(b []byte) error {
	w.writeMutex.Lock()
	defer w.writeMutex.Unlock()
	if err := w.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return wrapErr("send", err)
	}
	return wrapErr("send", w.c.WriteMessage(websocket.BinaryMessage, b))
}

func (w *wsConn) Recv() ([]byte, error) {
	_, b, err := w.c.ReadMessage()
	if err != nil {
		return nil, wrapErr("recv", err)
	}
	return b, nil
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return w.c.Close()
}

func (w *wsConn) RemoteAddr() string { return w.c.RemoteAddr().String() }

type wsListener struct {
	ln       *netListener
	upgrader websocket.Upgrader
	engine   *gin.Engine
	accept   chan Conn
	srvErr   chan error
}

func listenWS(hostport string) (Listener, error) {
	base, err := listenTCP(hostport)
	if err != nil {
		return nil, err
	}
	nl := base.(*netListener)
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	l := &wsListener{
		ln:     nl,
		engine: engine,
		accept: make(chan Conn),
		srvErr: make(chan error, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	engine.GET("/v1/ws", l.handleUpgrade)
	srv := &http.Server{Handler: engine}
	go func() { l.srvErr <- srv.Serve(nl.ln) }()
	return l, nil
}

func (l *wsListener) handleUpgrade(c *gin.Context) {
	conn, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	l.accept <- newWSConn(conn)
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case err := <-l.srvErr:
		return nil, wrapErr("accept", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Close() error { return l.ln.Close() }
func (l *wsListener) Addr() string { return l.ln.Addr() }

type wsDialer struct {
	baseURL string
}

func dialerWS(baseURL string) Dialer { return &wsDialer{baseURL: baseURL} }

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, d.baseURL+"/v1/ws", nil)
	if err != nil {
		return nil, wrapErr("dial", err)
	}
	return newWSConn(c), nil
}
