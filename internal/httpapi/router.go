package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoutes 健康检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterCheckInRoutes 注册老人/联系人/签到/位置分享路由
func (r *Router) RegisterCheckInRoutes(h *CheckInHandler) {
	r.Handle("/api/v1/elderly", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			h.ListElderly(w, req)
		case http.MethodPost:
			h.CreateElderly(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// /api/v1/elderly/{id}[/action[/sub]]
	r.Handle("/api/v1/elderly/", func(w http.ResponseWriter, req *http.Request) {
		parts := splitPath(strings.TrimPrefix(req.URL.Path, "/api/v1/elderly/"))
		if len(parts) == 0 || parts[0] == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		id := parts[0]

		if len(parts) == 1 {
			switch req.Method {
			case http.MethodGet:
				h.GetElderly(w, req, id)
			case http.MethodPut:
				h.UpdateElderly(w, req, id)
			case http.MethodDelete:
				h.DeleteElderly(w, req, id)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
			return
		}

		action := strings.Join(parts[1:], "/")
		switch action {
		case "contacts":
			switch req.Method {
			case http.MethodGet:
				h.ListContacts(w, req, id)
			case http.MethodPost:
				h.CreateContact(w, req, id)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
		case "checkin":
			methodOnly(w, req, http.MethodPost, func() { h.CheckIn(w, req, id) })
		case "today":
			methodOnly(w, req, http.MethodGet, func() { h.Today(w, req, id) })
		case "history":
			methodOnly(w, req, http.MethodGet, func() { h.History(w, req, id) })
		case "history/export":
			methodOnly(w, req, http.MethodGet, func() { h.ExportHistory(w, req, id) })
		case "stats":
			methodOnly(w, req, http.MethodGet, func() { h.Stats(w, req, id) })
		case "share":
			methodOnly(w, req, http.MethodPost, func() { h.Share(w, req, id) })
		case "shares":
			methodOnly(w, req, http.MethodGet, func() { h.ListShares(w, req, id) })
		case "notifications":
			methodOnly(w, req, http.MethodGet, func() { h.ListNotifications(w, req, id) })
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	// /api/v1/contacts/{id}
	r.Handle("/api/v1/contacts/", func(w http.ResponseWriter, req *http.Request) {
		id := strings.TrimPrefix(req.URL.Path, "/api/v1/contacts/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch req.Method {
		case http.MethodPut:
			h.UpdateContact(w, req, id)
		case http.MethodDelete:
			h.DeleteContact(w, req, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	r.Handle("/api/v1/relationships", func(w http.ResponseWriter, req *http.Request) {
		methodOnly(w, req, http.MethodGet, func() { h.Relationships(w, req) })
	})

	r.Handle("/api/v1/reminders", func(w http.ResponseWriter, req *http.Request) {
		methodOnly(w, req, http.MethodGet, func() { h.ListReminders(w, req) })
	})
}

func methodOnly(w http.ResponseWriter, req *http.Request, method string, next func()) {
	if req.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	next()
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
