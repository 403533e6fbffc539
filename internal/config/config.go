package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pders01/snapsync/internal/models"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
)

// Defaults written by SetDefaults and "snapsync init"
const (
	DefaultServerURL   = "http://localhost:8080"
	DefaultLogLevel    = "info"
	DefaultHistoryDays = 7
)

// SetDefaults registers every default on viper
func SetDefaults() {
	viper.SetDefault("server.url", DefaultServerURL)
	viper.SetDefault("server.timeout", "60s")
	viper.SetDefault("retry.base_delay", "10s")
	viper.SetDefault("retry.max_attempts", 10)
	viper.SetDefault("cache.ttl", "2h")
	viper.SetDefault("images.orphan_age", "24h")
	viper.SetDefault("data.lock_timeout", "10s")
	viper.SetDefault("reminders.breakfast", "12:00")
	viper.SetDefault("reminders.lunch", "17:00")
	viper.SetDefault("reminders.dinner", "21:00")
	viper.SetDefault("reminders.cutoff", "4h")
	viper.SetDefault("reminders.timezone", "UTC")
	viper.SetDefault("history.days", DefaultHistoryDays)
	viper.SetDefault("history.concurrency", 4)
	viper.SetDefault("log.level", DefaultLogLevel)
	viper.SetDefault("log.json", false)
}

// settings is the validated view of the scalar configuration keys
type settings struct {
	ServerURL          string        `validate:"required,url"`
	BaseDelay          time.Duration `validate:"gte=0s"`
	MaxAttempts        int           `validate:"min=1,max=30"`
	CacheTTL           time.Duration `validate:"gt=0s"`
	OrphanAge          time.Duration `validate:"gt=0s"`
	LockTimeout        time.Duration `validate:"gte=0s"`
	HistoryDays        int           `validate:"min=1,max=366"`
	HistoryConcurrency int           `validate:"min=1,max=32"`
	LogLevel           string        `validate:"omitempty,oneof=debug info warn warning error"`
}

var validate = validator.New()

// Validate checks the configuration before an engine is built
func Validate() error {
	s := settings{
		ServerURL:          GetServerURL(),
		BaseDelay:          GetBaseDelay(),
		MaxAttempts:        GetMaxAttempts(),
		CacheTTL:           GetCacheTTL(),
		OrphanAge:          GetOrphanAge(),
		LockTimeout:        GetLockTimeout(),
		HistoryDays:        GetHistoryDays(),
		HistoryConcurrency: GetHistoryConcurrency(),
		LogLevel:           strings.ToLower(GetLogLevel()),
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := GetReminderWindows(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := GetLocation(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ConfigDir returns ~/.config/snapsync
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "snapsync"), nil
}

// GetServerURL returns the backend base address
func GetServerURL() string {
	return viper.GetString("server.url")
}

// GetServerTimeout returns the per-attempt HTTP timeout
func GetServerTimeout() time.Duration {
	return viper.GetDuration("server.timeout")
}

// GetDataDir returns where the database and cache file live
func GetDataDir() (string, error) {
	if dir := viper.GetString("data.dir"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "snapsync"), nil
}

// GetBaseDelay returns the wait before the first retry
func GetBaseDelay() time.Duration {
	return viper.GetDuration("retry.base_delay")
}

// GetMaxAttempts returns the total number of attempts per request
func GetMaxAttempts() int {
	return viper.GetInt("retry.max_attempts")
}

// GetCacheTTL returns how long a statistics snapshot stays valid
func GetCacheTTL() time.Duration {
	return viper.GetDuration("cache.ttl")
}

// GetOrphanAge returns how long a capture may stay pending
func GetOrphanAge() time.Duration {
	return viper.GetDuration("images.orphan_age")
}

// GetLockTimeout returns how long a command waits for another snapsync
// process to release the database
func GetLockTimeout() time.Duration {
	return viper.GetDuration("data.lock_timeout")
}

// GetHistoryDays returns the default number of days for "snapsync history"
func GetHistoryDays() int {
	return viper.GetInt("history.days")
}

// GetHistoryConcurrency returns how many history requests may run at once
func GetHistoryConcurrency() int {
	return viper.GetInt("history.concurrency")
}

// GetLogLevel returns the configured log level name
func GetLogLevel() string {
	return viper.GetString("log.level")
}

// GetLogJSON reports whether logs are written as JSON
func GetLogJSON() bool {
	return viper.GetBool("log.json")
}

// GetLocation returns the timezone for statistics keys and reminders
func GetLocation() (*time.Location, error) {
	name := viper.GetString("reminders.timezone")
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// GetReminderWindows returns the configured breakfast, lunch and dinner windows
func GetReminderWindows() ([]models.ReminderWindow, error) {
	cutoff := viper.GetDuration("reminders.cutoff")
	if cutoff <= 0 {
		cutoff = models.DefaultCutoffOffset
	}

	windows := make([]models.ReminderWindow, 0, len(models.Meals))
	for _, meal := range models.Meals {
		hour, minute, err := models.ParseClock(viper.GetString("reminders." + string(meal)))
		if err != nil {
			return nil, fmt.Errorf("reminders.%s: %w", meal, err)
		}
		windows = append(windows, models.ReminderWindow{
			Meal:         meal,
			Hour:         hour,
			Minute:       minute,
			CutoffOffset: cutoff,
		})
	}
	return windows, nil
}

// GetToken returns the static bearer token, if any
func GetToken() string {
	return viper.GetString("auth.token")
}

// TokenSource builds a refreshing token source from auth.client_id,
// auth.client_secret, auth.token_url and auth.refresh_token. It returns
// false when OAuth is not configured.
func TokenSource(ctx context.Context) (oauth2.TokenSource, bool) {
	refresh := viper.GetString("auth.refresh_token")
	tokenURL := viper.GetString("auth.token_url")
	if refresh == "" || tokenURL == "" {
		return nil, false
	}

	cfg := &oauth2.Config{
		ClientID:     viper.GetString("auth.client_id"),
		ClientSecret: viper.GetString("auth.client_secret"),
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}), true
}

// DefaultConfig is the config file written by "snapsync init"
const DefaultConfig = `[server]
url = "http://localhost:8080"
timeout = "60s"

[retry]
base_delay = "10s"
max_attempts = 10

[cache]
ttl = "2h"

[images]
orphan_age = "24h"

[data]
# dir = "/var/lib/snapsync"
lock_timeout = "10s"

[reminders]
breakfast = "12:00"
lunch = "17:00"
dinner = "21:00"
cutoff = "4h"
timezone = "UTC"

[auth]
# token = ""
# token_url = ""
# client_id = ""
# client_secret = ""
# refresh_token = ""

[log]
level = "info"
`
