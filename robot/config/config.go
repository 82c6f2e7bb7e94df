package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Robot    RobotConfig    `json:"robot"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type RobotConfig struct {
	SerialDevice string `json:"serial_device"`
	SerialBaud   int    `json:"serial_baud"`

	SettingsPath string `json:"settings_path"`

	FrontCameraURL string `json:"front_camera_url"`
	RearCameraURL  string `json:"rear_camera_url"`

	DrivingSpeed float64 `json:"driving_speed"`
	UseHoe       bool    `json:"use_hoe"`

	EncoderWorkers int `json:"encoder_workers"`
	EncoderQueue   int `json:"encoder_queue"`
}

type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	MaxRequestSize int64    `json:"max_request_size"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

func LoadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Robot: RobotConfig{
			SerialDevice:   getEnv("SERIAL_DEVICE", "/dev/ttyACM0"),
			SerialBaud:     getEnvAsInt("SERIAL_BAUD", 115200),
			SettingsPath:   getEnv("CV_SETTINGS_PATH", "cv_settings.json"),
			FrontCameraURL: getEnv("FRONT_CAMERA_URL", "http://localhost:8081/stream"),
			RearCameraURL:  getEnv("REAR_CAMERA_URL", "http://localhost:8082/stream"),
			DrivingSpeed:   getEnvAsFloat("DRIVING_SPEED", 0.2),
			UseHoe:         getEnvAsBool("USE_HOE", true),
			EncoderWorkers: getEnvAsInt("ENCODER_WORKERS", 2),
			EncoderQueue:   getEnvAsInt("ENCODER_QUEUE", 8),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 1024*1024), // 1MB
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	return config
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Robot.SerialBaud <= 0 {
		errors = append(errors, "serial baud rate must be positive")
	}

	if c.Robot.SettingsPath == "" {
		errors = append(errors, "cv settings path is required")
	}

	if c.Robot.DrivingSpeed < 0 || c.Robot.DrivingSpeed > 1 {
		errors = append(errors, "driving speed must be between 0 and 1")
	}

	if c.Robot.EncoderWorkers < 1 {
		errors = append(errors, "encoder workers must be at least 1")
	}

	if c.Robot.FrontCameraURL == "" || c.Robot.RearCameraURL == "" {
		logger.Warn("camera URL not set, that feed will stay blank")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
