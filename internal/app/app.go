package app

import (
	"io"
	"os"
	"path/filepath"

	"captionit/internal/api"
	"captionit/internal/history"
	"captionit/internal/session"
	"captionit/internal/upload"
	"captionit/internal/workflow"
)

// Application wires the session provider, the backend gateway, the media
// uploader, and the two view controllers together. One instance per process.
type Application struct {
	Config   Config
	Logger   *Logger
	Session  *session.Provider
	Gateway  *api.Client
	Uploader *upload.Client
	Workflow *workflow.Controller
	History  *history.Controller

	logFile io.Closer
}

func NewApplication(cfg Config) (*Application, error) {
	var logOut io.Writer = io.Discard
	var logFile io.Closer
	if path := DefaultLogPath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err == nil {
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
				logOut = f
				logFile = f
			}
		}
	}
	logger := NewLogger(logOut)

	sess := session.NewProvider(cfg.IdentityURL, cfg.IdentityAPIKey, DefaultCredentialsPath())
	gateway := api.NewClient(cfg.APIBaseURL, sess)
	uploader := upload.NewClient(gateway, cfg.MediaUploadURL)

	app := &Application{
		Config:   cfg,
		Logger:   logger,
		Session:  sess,
		Gateway:  gateway,
		Uploader: uploader,
		Workflow: workflow.NewController(gateway, uploader, sess),
		History:  history.NewController(gateway, sess),
		logFile:  logFile,
	}
	logger.Info("application initialized", map[string]interface{}{
		"api_base_url": cfg.APIBaseURL,
	})
	return app, nil
}

// Close releases the log file. The session provider needs no teardown
// beyond process exit.
func (a *Application) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}
