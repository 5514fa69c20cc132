package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/modbus"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Board    BoardConfig    `mapstructure:"board"`
	Adapter  AdapterConfig  `mapstructure:"adapter"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type BoardConfig struct {
	Profile        string   `mapstructure:"profile"`
	ProfilePaths   []string `mapstructure:"profile_paths"`
	ConfigDocument string   `mapstructure:"config_document"`
	AutoInitialize bool     `mapstructure:"auto_initialize"`
}

const (
	AdapterFTDI   = "ftdi"
	AdapterModbus = "modbus"
	AdapterSim    = "sim"
)

type AdapterConfig struct {
	Kind        string        `mapstructure:"kind"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	FTDI        FTDIConfig    `mapstructure:"ftdi"`
	Modbus      ModbusConfig  `mapstructure:"modbus"`
}

type FTDIConfig struct {
	VendorID       uint16 `mapstructure:"vendor_id"`
	ProductID      uint16 `mapstructure:"product_id"`
	ResetInterface int    `mapstructure:"reset_interface"`
	BusInterface   int    `mapstructure:"bus_interface"`
}

type ModbusConfig struct {
	Address   string               `mapstructure:"address"`
	UnitID    uint8                `mapstructure:"unit_id"`
	Timeout   time.Duration        `mapstructure:"timeout"`
	BusPort   modbus.PortRegisters `mapstructure:"bus_port"`
	ResetPort modbus.PortRegisters `mapstructure:"reset_port"`
}

// MonitorConfig selects registers polled while the machine is ready.
// An interval of zero disables the monitor.
type MonitorConfig struct {
	Interval  time.Duration   `mapstructure:"interval"`
	Registers []WatchRegister `mapstructure:"registers"`
}

type WatchRegister struct {
	Name    string `mapstructure:"name"`
	Chip    string `mapstructure:"chip"`
	Address uint32 `mapstructure:"address"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv           string               `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration        `mapstructure:"access_token_ttl"`
	MaxFailedLoginAttempts int                  `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration        `mapstructure:"account_lock_duration"`
	Users                  []UserConfig         `mapstructure:"users"`
	MachineTokens          []MachineTokenConfig `mapstructure:"machine_tokens"`
}

type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// MachineTokenConfig is a bench token; only its sha256 hash is stored.
type MachineTokenConfig struct {
	Name        string   `mapstructure:"name"`
	Hash        string   `mapstructure:"hash"`
	Permissions []string `mapstructure:"permissions"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.development", false)

	v.SetDefault("board.profile", "dac38rf82evm")
	v.SetDefault("board.profile_paths", []string{"configs/profiles"})
	v.SetDefault("board.auto_initialize", false)

	v.SetDefault("adapter.kind", AdapterFTDI)
	v.SetDefault("adapter.open_timeout", "30s")
	v.SetDefault("adapter.ftdi.vendor_id", 0x0403)
	v.SetDefault("adapter.ftdi.product_id", 0x6010)
	v.SetDefault("adapter.ftdi.reset_interface", 1)
	v.SetDefault("adapter.ftdi.bus_interface", 2)
	v.SetDefault("adapter.modbus.unit_id", 1)
	v.SetDefault("adapter.modbus.timeout", "1s")

	v.SetDefault("monitor.interval", "0s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "DDS_JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")
}

// Load reads the YAML file at path. Every key can be overridden from the
// environment as DDS_<SECTION>_<KEY>, e.g. DDS_ADAPTER_KIND=sim.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("DDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Adapter.Kind {
	case AdapterFTDI:
		if c.Adapter.FTDI.ResetInterface == c.Adapter.FTDI.BusInterface {
			return fmt.Errorf("adapter.ftdi: reset and bus interface are both %d", c.Adapter.FTDI.BusInterface)
		}
	case AdapterModbus:
		if c.Adapter.Modbus.Address == "" {
			return fmt.Errorf("adapter.modbus.address is required")
		}
	case AdapterSim:
	default:
		return fmt.Errorf("unknown adapter kind: %q", c.Adapter.Kind)
	}

	if c.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval must not be negative")
	}
	for _, u := range c.Auth.Users {
		switch u.Role {
		case "viewer", "technician", "admin":
		default:
			return fmt.Errorf("auth.users: %s has unknown role %q", u.Username, u.Role)
		}
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "DDS_JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
