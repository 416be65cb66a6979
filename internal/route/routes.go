package route

import (
	"net/http"
	"os"
	"path/filepath"

	"crowdcounter/internal/config"
	"crowdcounter/internal/handler"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/middleware"
	"crowdcounter/internal/repository"
	"crowdcounter/internal/service"
	"crowdcounter/internal/service/websocket"
)

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", path+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the session middleware.
func SetupRoutes(manager *service.Manager, hub *websocket.HubService, users repository.UserRepository,
	sessions *middleware.SessionStore, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files and artifacts
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	mux.HandleFunc("/results/", handler.ResultHandler(manager, logger))

	// Analysis endpoints
	mux.HandleFunc("/api/image", handler.ImageUploadHandler(manager, cfg, logger))
	mux.HandleFunc("/api/video", handler.VideoUploadHandler(manager, cfg, logger))
	mux.HandleFunc("/api/analyze_frame", handler.AnalyzeFrameHandler(manager, cfg, logger))

	// History, progress and metrics
	mux.HandleFunc("/api/analyses", handler.AnalysesHandler(manager, logger))
	mux.HandleFunc("/api/analyses/detections", handler.AnalysisDetectionsHandler(manager, logger))
	mux.HandleFunc("/api/analyses/delete", handler.DeleteAnalysisHandler(manager, logger))
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(hub, logger))
	mux.HandleFunc("/api/metrics", handler.MetricsHandler(manager))

	// Log endpoints
	for level, file := range handler.LogFiles {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(cfg, file))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, file))
	}

	// Auth endpoints
	mux.HandleFunc("/auth/register", handler.RegisterHandler(users, logger))
	mux.HandleFunc("/auth/login", handler.LoginHandler(users, sessions, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler(sessions))

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return middleware.AuthMiddleware(sessions)(mux)
}
