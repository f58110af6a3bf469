package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultSimulatorExecutable is the stock inFACTS Studio 140 install location.
const DefaultSimulatorExecutable = `C:\Program Files\Evoma AB\inFACTS Studio 140\inFACTS Studio.exe`

// Config holds runtime configuration for the backend and frontend services.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	APIKey string

	UploadDir         string
	AllowedExtensions []string
	MaxUploadBytes    int64
	UploadRetention   time.Duration
	UploadSweepEvery  time.Duration
	JobRetention      time.Duration
	DefaultJobsLimit  int

	SimExecutable    string
	SimArgs          []string
	SimTimeout       time.Duration
	SimLogSuffix     string
	SimMaxConcurrent int

	JobStore       string
	JobSQLitePath  string
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	DBConnTimeout  time.Duration
	DBQueryTimeout time.Duration

	LogLevel  string
	LogFormat string

	FrontendListenAddr string
	BackendURL         string
	BackendTimeout     time.Duration
}

// FromEnv loads configuration from environment variables with sensible defaults.
func FromEnv() Config {
	loadConfigDefaultsFromFile()
	loadSecretsDefaultsFromFile()

	return Config{
		ListenAddr:         getEnv("APP_LISTEN_ADDR", ":8000"),
		ReadTimeout:        time.Duration(getEnvInt("APP_READ_TIMEOUT_SEC", 60)) * time.Second,
		WriteTimeout:       time.Duration(getEnvInt("APP_WRITE_TIMEOUT_SEC", 0)) * time.Second,
		ShutdownTimeout:    time.Duration(getEnvInt("APP_SHUTDOWN_TIMEOUT_SEC", 30)) * time.Second,
		APIKey:             strings.TrimSpace(os.Getenv("APP_API_KEY")),
		UploadDir:          getEnv("APP_UPLOAD_DIR", "temp"),
		AllowedExtensions:  getEnvList("APP_ALLOWED_EXTENSIONS", []string{"aml", "xml"}),
		MaxUploadBytes:     int64(getEnvInt("APP_MAX_UPLOAD_MB", 64)) << 20,
		UploadRetention:    time.Duration(getEnvInt("APP_UPLOAD_RETENTION_HOURS", 0)) * time.Hour,
		UploadSweepEvery:   time.Duration(getEnvInt("APP_UPLOAD_SWEEP_INTERVAL_MIN", 15)) * time.Minute,
		JobRetention:       time.Duration(getEnvInt("APP_JOB_RETENTION_MIN", 60)) * time.Minute,
		DefaultJobsLimit:   getEnvInt("APP_DEFAULT_JOBS_LIMIT", 50),
		SimExecutable:      getEnv("APP_SIM_EXECUTABLE", DefaultSimulatorExecutable),
		SimArgs:            getEnvList("APP_SIM_ARGS", nil),
		SimTimeout:         time.Duration(getEnvInt("APP_SIM_TIMEOUT_SEC", 600)) * time.Second,
		SimLogSuffix:       getEnv("APP_SIM_LOG_SUFFIX", ""),
		SimMaxConcurrent:   getEnvInt("APP_SIM_MAX_CONCURRENT", 1),
		JobStore:           strings.ToLower(getEnv("APP_JOB_STORE", "")),
		JobSQLitePath:      getEnv("APP_JOB_SQLITE_PATH", "simulate-now.db"),
		DBHost:             getEnv("APP_DB_HOST", "127.0.0.1"),
		DBPort:             getEnvInt("APP_DB_PORT", 3306),
		DBUser:             getEnv("APP_DB_USER", "simulate"),
		DBPassword:         getEnv("APP_DB_PASSWORD", ""),
		DBName:             getEnv("APP_DB_NAME", "simulate_now"),
		DBConnTimeout:      time.Duration(getEnvInt("APP_DB_CONN_TIMEOUT_SEC", 5)) * time.Second,
		DBQueryTimeout:     time.Duration(getEnvInt("APP_DB_QUERY_TIMEOUT_SEC", 10)) * time.Second,
		LogLevel:           getEnv("APP_LOG_LEVEL", "info"),
		LogFormat:          getEnv("APP_LOG_FORMAT", "text"),
		FrontendListenAddr: getEnv("APP_FRONTEND_LISTEN_ADDR", ":8501"),
		BackendURL:         getEnv("APP_BACKEND_URL", "http://127.0.0.1:8000"),
		BackendTimeout:     time.Duration(getEnvInt("APP_BACKEND_TIMEOUT_SEC", 660)) * time.Second,
	}
}

func loadConfigDefaultsFromFile() {
	bootstrapCandidates := []string{
		"./simulate-now.env",
		"/etc/default/simulate-now",
	}

	for _, candidate := range bootstrapCandidates {
		abs := candidate
		if !filepath.IsAbs(candidate) {
			if wd, err := os.Getwd(); err == nil {
				abs = filepath.Join(wd, candidate)
			}
		}
		_ = applyEnvDefaultsFromFile(abs)
	}

	candidates := make([]string, 0, 2)
	if explicit := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	candidates = append(candidates, "/etc/simulate-now/config.env")

	for _, candidate := range candidates {
		abs := candidate
		if !filepath.IsAbs(candidate) {
			if wd, err := os.Getwd(); err == nil {
				abs = filepath.Join(wd, candidate)
			}
		}

		if err := applyEnvDefaultsFromFile(abs); err == nil {
			return
		}
	}
}

// The shared API key lives here in production; systemd LoadCredential= works too.
func loadSecretsDefaultsFromFile() {
	candidates := make([]string, 0, 3)
	if explicit := strings.TrimSpace(os.Getenv("APP_SECRETS_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	if credDir := strings.TrimSpace(os.Getenv("CREDENTIALS_DIRECTORY")); credDir != "" {
		credName := strings.TrimSpace(os.Getenv("APP_SECRETS_CREDENTIAL_NAME"))
		if credName == "" {
			credName = "app-secrets"
		}
		candidates = append(candidates, filepath.Join(credDir, credName))
	}
	candidates = append(candidates, "/etc/simulate-now/secrets.env")
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if err := applyEnvDefaultsFromFile(candidate); err == nil {
			return
		}
	}
}

func applyEnvDefaultsFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if key == "" {
			continue
		}

		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}

		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}

	return scanner.Err()
}

// MySQLDSN returns a mysql driver DSN for the job history database.
func (c Config) MySQLDSN() string {
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("timeout", c.DBConnTimeout.String())
	params.Set("readTimeout", c.DBQueryTimeout.String())
	params.Set("writeTimeout", c.DBQueryTimeout.String())
	params.Set("charset", "utf8mb4")
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, params.Encode())
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvList(key string, def []string) []string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		out := make([]string, 0, len(def))
		for _, d := range def {
			d = strings.TrimSpace(d)
			if d != "" {
				out = append(out, d)
			}
		}
		return out
	}

	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
