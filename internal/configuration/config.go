package configuration

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	ConversationsCollection string `json:"conversationsCollection"`
	ParticipantsCollection  string `json:"participantsCollection"`
	MessagesCollection      string `json:"messagesCollection"`
	TasksCollection         string `json:"tasksCollection"`
	EmployeesCollection     string `json:"employeesCollection"`
	SocketRoute             string `json:"socketRoute"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type AuthConfig struct {
	JwtSecret string        `json:"jwt_secret"`
	TokenTTL  time.Duration `json:"-"`
	TokenTTLH int           `json:"token_ttl_hours"`
}

type Config struct {
	ChatDatabase MongoConfig  `json:"mongo"`
	Server       ServerConfig `json:"server"`
	Auth         AuthConfig   `json:"auth"`
}

// LoadConfig reads the JSON config file and then overlays secrets from the
// environment. A .env file is loaded when present; deployment environments
// set real variables instead.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		config.ChatDatabase.Uri = uri
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JwtSecret = secret
	}
	if port := os.Getenv("APP_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			config.Server.AppPort = v
		}
	}
	if port := os.Getenv("SOCKET_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			config.Server.SocketPort = v
		}
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	if config.Auth.TokenTTLH <= 0 {
		config.Auth.TokenTTLH = 24
	}
	config.Auth.TokenTTL = time.Duration(config.Auth.TokenTTLH) * time.Hour

	return &config, nil
}
