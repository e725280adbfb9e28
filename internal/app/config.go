package app

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIBaseURL     string `yaml:"api_base_url"`
	IdentityURL    string `yaml:"identity_url"`
	IdentityAPIKey string `yaml:"identity_api_key"`
	MediaUploadURL string `yaml:"media_upload_url"`
	DefaultView    string `yaml:"default_view"`
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:  "http://localhost:8000",
		IdentityURL: "https://identitytoolkit.googleapis.com",
		DefaultView: "dashboard",
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	// A .env in the working directory may carry the identity key in
	// development setups.
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	if v := os.Getenv("CAPTIONIT_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("CAPTIONIT_IDENTITY_URL"); v != "" {
		cfg.IdentityURL = v
	}
	if v := os.Getenv("CAPTIONIT_IDENTITY_API_KEY"); v != "" {
		cfg.IdentityAPIKey = v
	}
	if v := os.Getenv("CAPTIONIT_MEDIA_UPLOAD_URL"); v != "" {
		cfg.MediaUploadURL = v
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8000"
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = "https://identitytoolkit.googleapis.com"
	}
	if cfg.DefaultView == "" {
		cfg.DefaultView = "dashboard"
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "captionit", "config.yml")
}

func DefaultCredentialsPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "captionit", "credentials.json")
}

func DefaultLogPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "captionit", "captionit.log")
}
