package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration. It is built once by Load and
// treated as read-only afterwards.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Model         ModelConfig         `yaml:"model"`
	Detection     DetectionConfig     `yaml:"detection"`
	Storage       StorageConfig       `yaml:"storage"`
	Backend       BackendConfig       `yaml:"backend"`
	EventHandlers EventHandlersConfig `yaml:"event_handlers"`
	TTS           TTSConfig           `yaml:"tts"`
	API           APIConfig           `yaml:"api"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Logging       LoggingConfig       `yaml:"logging"`
	Client        ClientConfig        `yaml:"client"`
}

type ServerConfig struct {
	GRPCPort      int    `yaml:"grpc_port"`
	HTTPPort      int    `yaml:"http_port"`
	MaxSessions   int    `yaml:"max_sessions"`    // Cap on concurrent channel sessions
	ResultBuffer  int    `yaml:"result_buffer"`   // Results queued per session before Send blocks
	MaxFrameBytes int    `yaml:"max_frame_bytes"` // Largest wire message accepted on either transport
	APIToken      string `yaml:"api_token"`
}

type ModelConfig struct {
	Path       string         `yaml:"path"`
	ConfigPath string         `yaml:"config_path"`
	Labels     map[int]string `yaml:"labels"`
}

type DetectionConfig struct {
	Threshold           float64       `yaml:"threshold"`
	EscalationThreshold float64       `yaml:"escalation_threshold"`
	AlertClass          int           `yaml:"alert_class"`
	SamplingInterval    int           `yaml:"sampling_interval"`    // Score every Nth frame in passive monitoring
	InteractiveInterval int           `yaml:"interactive_interval"` // Score every Nth frame when a viewer is attached
	InferenceTimeout    time.Duration `yaml:"inference_timeout"`
}

type StorageConfig struct {
	Root     string `yaml:"root"`
	Database string `yaml:"database"`
	Quality  int    `yaml:"jpeg_quality"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type EventHandlersConfig struct {
	Log   bool `yaml:"log"`
	TTS   bool `yaml:"tts"`
	API   bool `yaml:"api"`
	Kafka bool `yaml:"kafka"`
	MQTT  bool `yaml:"mqtt"`
}

type TTSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Rate    int    `yaml:"rate"`
	Voice   string `yaml:"voice"`
	Command string `yaml:"command"`
}

type APIConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	BootstrapServers []string `yaml:"bootstrap_servers"`
	Topic            string   `yaml:"topic"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	ClientID string `yaml:"client_id"`
}

type LoggingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Directory   string `yaml:"directory"`
	Level       string `yaml:"level"`
	MaxBytes    int    `yaml:"max_bytes"`
	BackupCount int    `yaml:"backup_count"`
}

type ClientConfig struct {
	ServerAddress  string        `yaml:"server_address"`
	CameraID       string        `yaml:"camera_id"`
	Source         string        `yaml:"source"`    // Device index, rtsp:// URL, udp://:port or a directory of jpegs
	Transport      string        `yaml:"transport"` // grpc or websocket
	JPEGQuality    int           `yaml:"jpeg_quality"`
	SendBuffer     int           `yaml:"send_buffer"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Default returns the configuration used when no file or environment overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort:      50051,
			HTTPPort:      8080,
			MaxSessions:   10,
			ResultBuffer:  16,
			MaxFrameBytes: 32 * 1024 * 1024,
		},
		Model: ModelConfig{
			Path:       filepath.Join(".", "models", "frozen_inference_graph.pb"),
			ConfigPath: filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt"),
			Labels:     map[int]string{0: "fall"},
		},
		Detection: DetectionConfig{
			Threshold:           0.5,
			EscalationThreshold: 0.7,
			AlertClass:          0,
			SamplingInterval:    30,
			InteractiveInterval: 5,
			InferenceTimeout:    5 * time.Second,
		},
		Storage: StorageConfig{
			Root:     "/storage",
			Database: filepath.Join(".", "data", "events.db"),
			Quality:  90,
		},
		Backend: BackendConfig{
			BaseURL: "http://springboot-server:8080",
			Timeout: 10 * time.Second,
		},
		EventHandlers: EventHandlersConfig{Log: true},
		TTS:           TTSConfig{Rate: 200, Voice: "default", Command: "espeak"},
		API:           APIConfig{Timeout: 10 * time.Second},
		Kafka: KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			Topic:            "object-detection-events",
		},
		MQTT: MQTTConfig{
			Broker:   "localhost:1883",
			Topic:    "object-detection-events",
			ClientID: "keen-server",
		},
		Logging: LoggingConfig{
			Enabled:     true,
			Directory:   filepath.Join(".", "logs"),
			Level:       "info",
			MaxBytes:    10 * 1024 * 1024,
			BackupCount: 5,
		},
		Client: ClientConfig{
			ServerAddress:  "localhost:50051",
			CameraID:       "raspberry_pi_01",
			Source:         "0",
			Transport:      "grpc",
			JPEGQuality:    85,
			SendBuffer:     8,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the optional file at path
// (YAML or JSON), then a .env file if present, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.GRPCPort = getEnvAsInt("GRPC_PORT", c.Server.GRPCPort)
	c.Server.HTTPPort = getEnvAsInt("PORT", c.Server.HTTPPort)
	c.Server.MaxSessions = getEnvAsInt("MAX_SESSIONS", c.Server.MaxSessions)
	c.Server.MaxFrameBytes = getEnvAsInt("MAX_FRAME_BYTES", c.Server.MaxFrameBytes)
	c.Server.APIToken = getEnv("API_TOKEN", c.Server.APIToken)
	c.Model.Path = getEnv("MODEL_PATH", c.Model.Path)
	c.Model.ConfigPath = getEnv("CONFIG_PATH", c.Model.ConfigPath)
	c.Detection.Threshold = getEnvAsFloat("DETECTION_THRESHOLD", c.Detection.Threshold)
	c.Detection.EscalationThreshold = getEnvAsFloat("ESCALATION_THRESHOLD", c.Detection.EscalationThreshold)
	c.Detection.SamplingInterval = getEnvAsInt("PROCESSING_INTERVAL", c.Detection.SamplingInterval)
	c.Storage.Root = getEnv("STORAGE_DIR", c.Storage.Root)
	c.Storage.Database = getEnv("DATABASE_PATH", c.Storage.Database)
	c.Backend.BaseURL = getEnv("BACKEND_URL", c.Backend.BaseURL)
	c.Logging.Directory = getEnv("LOG_DIR", c.Logging.Directory)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Kafka.BootstrapServers = getEnvAsList("KAFKA_BOOTSTRAP_SERVERS", c.Kafka.BootstrapServers)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.Client.ServerAddress = getEnv("SERVER_ADDRESS", c.Client.ServerAddress)
	c.Client.CameraID = getEnv("CAMERA_ID", c.Client.CameraID)
	c.Client.Source = getEnv("CAMERA_SOURCE", c.Client.Source)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Detection.Threshold < 0 || c.Detection.Threshold > 1:
		return errors.Errorf("detection.threshold %v outside [0,1]", c.Detection.Threshold)
	case c.Detection.EscalationThreshold < 0 || c.Detection.EscalationThreshold > 1:
		return errors.Errorf("detection.escalation_threshold %v outside [0,1]", c.Detection.EscalationThreshold)
	case c.Detection.SamplingInterval < 1 || c.Detection.InteractiveInterval < 1:
		return errors.New("sampling intervals must be at least 1")
	case c.Detection.InferenceTimeout <= 0:
		return errors.New("detection.inference_timeout must be positive")
	case c.Server.MaxSessions < 1:
		return errors.New("server.max_sessions must be at least 1")
	case c.Server.MaxFrameBytes < 1:
		return errors.New("server.max_frame_bytes must be positive")
	case c.API.Enabled && c.EventHandlers.API && c.API.Endpoint == "":
		return errors.New("api.endpoint is required when the api handler is enabled")
	case c.Kafka.Enabled && c.EventHandlers.Kafka && len(c.Kafka.BootstrapServers) == 0:
		return errors.New("kafka.bootstrap_servers is required when the kafka handler is enabled")
	case c.Client.Transport != "grpc" && c.Client.Transport != "websocket":
		return errors.Errorf("client.transport %q must be grpc or websocket", c.Client.Transport)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
