package config

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                int
	ModelBackend        string // "ssd" or "yolo"
	ModelPath           string
	ConfigPath          string // SSD graph description, unused by yolo
	ConfidenceThreshold float64
	SampleStride        int // Co którą klatkę analizować (1=każdą)
	SingleFrameOffset   int // Klatka wybierana dla method=single
	MinRegionSize       int // Minimalny bok ROI w pikselach po przycięciu
	DetectorWorkers     int // Liczba instancji modelu w puli
	ResultsDirectory    string
	UploadDirectory     string
	DatabasePath        string
	LogDirectory        string
	MaxUploadSizeMB     int64
	InteractiveTimeout  time.Duration
	VideoCodec          string // FourCC kodeka wyjściowego
	VideoExtension      string
	SessionTTL          time.Duration
}

// Load reads an optional .env file and then the process environment.
// It is called once at startup; the result is passed explicitly to every component.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		Port:                getEnvAsInt("PORT", 8080),
		ModelBackend:        getEnv("MODEL_BACKEND", "ssd"),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:          getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		SampleStride:        getEnvAsInt("SAMPLE_STRIDE", 1),
		SingleFrameOffset:   getEnvAsInt("SINGLE_FRAME_OFFSET", 0),
		MinRegionSize:       getEnvAsInt("MIN_REGION_SIZE", 16),
		DetectorWorkers:     getEnvAsInt("DETECTOR_WORKERS", runtime.NumCPU()),
		ResultsDirectory:    getEnv("RESULTS_DIR", filepath.Join(".", "static", "results")),
		UploadDirectory:     getEnv("UPLOAD_DIR", filepath.Join(".", "static", "uploads")),
		DatabasePath:        getEnv("DB_PATH", filepath.Join(".", "data", "crowdcounter.db")),
		LogDirectory:        getEnv("LOG_DIR", filepath.Join(".", "logs")),
		MaxUploadSizeMB:     getEnvAsInt64("MAX_UPLOAD_MB", 512),
		InteractiveTimeout:  getEnvAsDuration("INTERACTIVE_TIMEOUT", 2*time.Second),
		VideoCodec:          getEnv("VIDEO_CODEC", "mp4v"),
		VideoExtension:      getEnv("VIDEO_EXT", ".mp4"),
		SessionTTL:          getEnvAsDuration("SESSION_TTL", 24*time.Hour),
	}
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
