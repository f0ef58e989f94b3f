package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"netnetWatch/internal/bus"
	"netnetWatch/internal/notify"
	"netnetWatch/internal/poller"
	"netnetWatch/internal/trace"
)

const (
	defaultHistoryLimit = 100
	clientBuffer        = 64
	pingInterval        = 45 * time.Second
	readDeadline        = 90 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

// 推送给页面的消息
type helloMsg struct {
	Type string `json:"type"` // "hello"
	ID   string `json:"id"`
}

type snapshotMsg struct {
	Type     string           `json:"type"` // "snapshot"
	Snapshot snapshotResponse `json:"snapshot"`
}

type notificationMsg struct {
	Type         string              `json:"type"` // "notification"
	Notification notify.Notification `json:"notification"`
}

type historyMsg struct {
	Type          string                `json:"type"` // "history"
	Notifications []notify.Notification `json:"notifications"`
}

type backgroundMsg struct {
	Type    string      `json:"type"` // "background"
	Message bus.Message `json:"message"`
}

// controlMsg 页面发来的控制消息：visibility / retry。
type controlMsg struct {
	Type   string `json:"type"`
	Hidden bool   `json:"hidden,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	out  chan any
	done chan struct{}
}

// Hub 管理所有已连接的仪表盘页面；同时是一个通知出口。
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	history  []notify.Notification
	limit    int
	snapshot *snapshotMsg
	raw      poller.Snapshot
	view     func(poller.Snapshot) snapshotResponse
}

func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		history: make([]notify.Notification, 0, limit),
		limit:   limit,
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Permission 有页面连接时视为已授权；无页面时无人可问，保持 default。
func (h *Hub) Permission() notify.Permission {
	if h.Clients() > 0 {
		return notify.PermissionGranted
	}
	return notify.PermissionDefault
}

func (h *Hub) Notify(ctx context.Context, n notify.Notification) error {
	h.mu.Lock()
	// 同一 tag 只保留最新一条
	kept := h.history[:0]
	for _, x := range h.history {
		if x.Tag != n.Tag {
			kept = append(kept, x)
		}
	}
	h.history = append(kept, n)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}
	h.mu.Unlock()
	trace.Log(ctx, "dashboard: 推送通知 tag=%s clients=%d", n.Tag, h.Clients())
	h.broadcast(notificationMsg{Type: "notification", Notification: n})
	return nil
}

func (h *Hub) History() []notify.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]notify.Notification, len(h.history))
	copy(out, h.history)
	return out
}

// setView 设置快照的渲染方式（筛选、排序、已通知标记），NewRouter 调用。
func (h *Hub) setView(fn func(poller.Snapshot) snapshotResponse) {
	h.mu.Lock()
	h.view = fn
	h.mu.Unlock()
}

func (h *Hub) render(s poller.Snapshot) snapshotMsg {
	h.mu.RLock()
	view := h.view
	h.mu.RUnlock()
	if view == nil {
		return snapshotMsg{Type: "snapshot", Snapshot: newSnapshotResponse(s, nil)}
	}
	return snapshotMsg{Type: "snapshot", Snapshot: view(s)}
}

// PublishSnapshot 推送快照；乱序到达的旧版本丢弃。
func (h *Hub) PublishSnapshot(s poller.Snapshot) {
	msg := h.render(s)
	h.mu.Lock()
	if h.snapshot != nil && h.snapshot.Snapshot.Version > s.Version {
		h.mu.Unlock()
		return
	}
	h.snapshot = &msg
	h.raw = s
	h.mu.Unlock()
	h.broadcast(msg)
}

// Refresh 偏好变化后按当前视图重推最近一次快照。
func (h *Hub) Refresh() {
	h.mu.RLock()
	if h.snapshot == nil {
		h.mu.RUnlock()
		return
	}
	raw := h.raw
	h.mu.RUnlock()
	msg := h.render(raw)
	h.mu.Lock()
	if h.snapshot != nil && h.snapshot.Snapshot.Version > raw.Version {
		h.mu.Unlock()
		return
	}
	h.snapshot = &msg
	h.mu.Unlock()
	h.broadcast(msg)
}

func (h *Hub) PublishBackground(m bus.Message) {
	h.broadcast(backgroundMsg{Type: "background", Message: m})
}

func (h *Hub) broadcast(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- v:
		default:
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeWS 升级为 websocket：先发 hello、最近快照与通知历史，之后读取页面的控制消息。
func (h *Hub) ServeWS(onControl func(ctx context.Context, ctrl controlMsg)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			trace.Log(ctx, "dashboard: ws upgrade err=%v", err)
			return
		}
		defer conn.Close()
		cl := &client{id: uuid.NewString(), conn: conn, out: make(chan any, clientBuffer), done: make(chan struct{})}
		defer close(cl.done)

		h.mu.RLock()
		snap := h.snapshot
		h.mu.RUnlock()
		cl.out <- helloMsg{Type: "hello", ID: cl.id}
		if snap != nil {
			cl.out <- *snap
		}
		cl.out <- historyMsg{Type: "history", Notifications: h.History()}

		h.add(cl)
		defer h.remove(cl)
		trace.Log(ctx, "dashboard: ws 连接 id=%s clients=%d", cl.id, h.Clients())

		// writer
		go func() {
			ping := time.NewTicker(pingInterval)
			defer ping.Stop()
			for {
				select {
				case v := <-cl.out:
					_ = conn.WriteJSON(v)
				case <-ping.C:
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				case <-cl.done:
					return
				}
			}
		}()

		// reader
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readDeadline))
		})
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.TextMessage {
				continue
			}
			var ctrl controlMsg
			if err := json.Unmarshal(data, &ctrl); err != nil {
				continue
			}
			ctrl.Type = strings.ToLower(ctrl.Type)
			if onControl != nil {
				onControl(ctx, ctrl)
			}
		}
		trace.Log(ctx, "dashboard: ws 断开 id=%s", cl.id)
	}
}
