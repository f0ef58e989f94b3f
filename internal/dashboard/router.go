// Package dashboard 仪表盘 HTTP 接口与 websocket 推送。
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"netnetWatch/internal/api"
	"netnetWatch/internal/filter"
	"netnetWatch/internal/model"
	"netnetWatch/internal/notify"
	"netnetWatch/internal/poller"
	"netnetWatch/internal/store"
	"netnetWatch/internal/trace"
)

// 与网页版一致的更新时间显示格式
const lastUpdateLayout = "2006/01/02 15:04:05"

// Controller 前台应用，*app.App 实现之。
type Controller interface {
	Snapshot() poller.Snapshot
	Retry()
	SetHidden(hidden bool)
	NotificationsEnabled() bool
	Permission() notify.Permission
	Notified() []string
	EnableNotifications(ctx context.Context) notify.Permission
	DisableNotifications(ctx context.Context)
}

type stockView struct {
	model.MergedStock
	Status   model.Status `json:"status"`
	Distance float64      `json:"distance"`
	AtNetNet bool         `json:"atNetNet"`
	Notified bool         `json:"notified"`
}

type snapshotResponse struct {
	Stocks      []stockView     `json:"stocks"`
	LastUpdate  string          `json:"lastUpdate,omitempty"`
	Error       string          `json:"error,omitempty"`
	ConfigError bool            `json:"configError,omitempty"`
	Loading     bool            `json:"loading"`
	Pulse       bool            `json:"pulse"`
	Version     uint64          `json:"version"`
	Market      model.Market    `json:"market,omitempty"`
	Sort        store.SortOrder `json:"sort,omitempty"`
}

func newSnapshotResponse(s poller.Snapshot, notified notify.Set) snapshotResponse {
	return snapshotResponse{
		Stocks:      views(s.Stocks, notified),
		LastUpdate:  formatLastUpdate(s),
		Error:       api.UserMessage(s.Err),
		ConfigError: api.IsConfigError(s.Err),
		Loading:     s.Loading,
		Pulse:       s.Pulse,
		Version:     s.Version,
	}
}

func formatLastUpdate(s poller.Snapshot) string {
	if s.LastUpdate.IsZero() {
		return ""
	}
	return s.LastUpdate.Format(lastUpdateLayout)
}

func views(stocks []model.MergedStock, notified notify.Set) []stockView {
	out := make([]stockView, 0, len(stocks))
	for _, s := range stocks {
		out = append(out, stockView{
			MergedStock: s,
			Status:      s.Status(),
			Distance:    s.Distance(),
			AtNetNet:    s.AtNetNet(),
			Notified:    notified.Has(s.Symbol),
		})
	}
	return out
}

type notificationsResponse struct {
	Enabled    bool              `json:"enabled"`
	Permission notify.Permission `json:"permission"`
	Notified   []string          `json:"notified"`
}

type preferencesRequest struct {
	SortOrder    *string `json:"sortOrder"`
	MarketFilter *string `json:"marketFilter"`
	Theme        *string `json:"theme"`
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

type server struct {
	ctrl  Controller
	store *store.Store
	hub   *Hub
}

func NewRouter(ctrl Controller, st *store.Store, hub *Hub) *mux.Router {
	s := &server{ctrl: ctrl, store: st, hub: hub}
	hub.setView(s.snapshotView)
	r := mux.NewRouter()
	r.Use(traceMiddleware)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.HandleFunc("/api/stocks", s.getStocks).Methods("GET")
	r.HandleFunc("/api/retry", s.retry).Methods("POST")
	r.HandleFunc("/api/visibility", s.setVisibility).Methods("POST")
	r.HandleFunc("/api/preferences", s.getPreferences).Methods("GET")
	r.HandleFunc("/api/preferences", s.putPreferences).Methods("PUT")
	r.HandleFunc("/api/notifications", s.getNotifications).Methods("GET")
	r.HandleFunc("/api/notifications/enable", s.enableNotifications).Methods("POST")
	r.HandleFunc("/api/notifications/disable", s.disableNotifications).Methods("POST")
	r.HandleFunc("/api/notifications/history", s.getHistory).Methods("GET")
	r.HandleFunc("/ws", hub.ServeWS(s.onControl)).Methods("GET")
	return r
}

func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := trace.New(r.Context())
		trace.Log(ctx, "dashboard: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// getStocks 未带参数时使用已保存的偏好；参数只影响本次查询。
func (s *server) getStocks(w http.ResponseWriter, r *http.Request) {
	prefs := s.store.Preferences()
	market, order := prefs.MarketFilter, prefs.SortOrder
	if v := r.URL.Query().Get("market"); v != "" {
		m, ok := model.ParseMarket(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid market "+v)
			return
		}
		market = m
	}
	if v := r.URL.Query().Get("sort"); v != "" {
		o, ok := store.ParseSortOrder(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid sort "+v)
			return
		}
		order = o
	}
	writeJSON(w, http.StatusOK, s.render(s.ctrl.Snapshot(), market, order))
}

func (s *server) render(snap poller.Snapshot, market model.Market, order store.SortOrder) snapshotResponse {
	snap.Stocks = filter.View(snap.Stocks, market, order)
	resp := newSnapshotResponse(snap, notify.NewSet(s.ctrl.Notified()))
	resp.Market = market
	resp.Sort = order
	return resp
}

// snapshotView websocket 推送与 GET /api/stocks 使用相同的已保存偏好。
func (s *server) snapshotView(snap poller.Snapshot) snapshotResponse {
	prefs := s.store.Preferences()
	return s.render(snap, prefs.MarketFilter, prefs.SortOrder)
}

func (s *server) retry(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Retry()
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (s *server) setVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.ctrl.SetHidden(req.Hidden)
	writeJSON(w, http.StatusOK, req)
}

func (s *server) getPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Preferences())
}

// putPreferences 只更新请求中出现的字段；任何字段非法则整个请求不生效。
func (s *server) putPreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var (
		order  store.SortOrder
		market model.Market
		theme  store.Theme
		ok     bool
	)
	if req.SortOrder != nil {
		if order, ok = store.ParseSortOrder(*req.SortOrder); !ok {
			writeError(w, http.StatusBadRequest, "invalid sortOrder")
			return
		}
	}
	if req.MarketFilter != nil {
		if market, ok = model.ParseMarket(*req.MarketFilter); !ok {
			writeError(w, http.StatusBadRequest, "invalid marketFilter")
			return
		}
	}
	if req.Theme != nil {
		if theme, ok = store.ParseTheme(*req.Theme); !ok {
			writeError(w, http.StatusBadRequest, "invalid theme")
			return
		}
	}
	var err error
	if order != "" {
		err = s.store.SetSortOrder(order)
	}
	if err == nil && market != "" {
		err = s.store.SetMarketFilter(market)
	}
	if err == nil && theme != "" {
		err = s.store.SetTheme(theme)
	}
	if err != nil {
		trace.Log(r.Context(), "dashboard: 保存偏好失败 err=%v", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	s.hub.Refresh()
	writeJSON(w, http.StatusOK, s.store.Preferences())
}

func (s *server) notifications() notificationsResponse {
	return notificationsResponse{
		Enabled:    s.ctrl.NotificationsEnabled(),
		Permission: s.ctrl.Permission(),
		Notified:   s.ctrl.Notified(),
	}
}

func (s *server) getNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notifications())
}

// enableNotifications 授权被拒绝不是错误，照常返回 200 与当前状态。
func (s *server) enableNotifications(w http.ResponseWriter, r *http.Request) {
	s.ctrl.EnableNotifications(r.Context())
	writeJSON(w, http.StatusOK, s.notifications())
}

func (s *server) disableNotifications(w http.ResponseWriter, r *http.Request) {
	s.ctrl.DisableNotifications(r.Context())
	writeJSON(w, http.StatusOK, s.notifications())
}

func (s *server) getHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.History())
}

func (s *server) onControl(ctx context.Context, ctrl controlMsg) {
	switch ctrl.Type {
	case "visibility":
		s.ctrl.SetHidden(ctrl.Hidden)
	case "retry":
		s.ctrl.Retry()
	default:
		trace.Log(ctx, "dashboard: 忽略控制消息 type=%s", ctrl.Type)
	}
}
