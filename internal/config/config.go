package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultCharacteristic is the vendor color-write characteristic.
const DefaultCharacteristic = "69400002-B5A3-F393-E0A9-E50E24DCCA99"

// DMX window limits. Addresses are 1-based and a light consumes three slots.
// Universe 0 exists only on Art-Net.
const (
	MinAddress        = 1
	MaxAddress        = 510
	MinUniverse       = 1
	MinArtNetUniverse = 0
	MaxUniverse       = 63999
)

var (
	ErrNoLights       = errors.New("no lights configured")
	ErrInvalidLight   = errors.New("invalid light")
	ErrDuplicateLight = errors.New("duplicate light id")
	ErrInvalidTiming  = errors.New("invalid ble timing")
)

// Config структура конфигурации.
type Config struct {
	Logger LogConf     `toml:"logger"` // Logger - конфигурация регистратора.
	Sacn   SacnConf    `toml:"sacn"`   // Sacn - приём sACN.
	ArtNet ArtNetConf  `toml:"artnet"` // ArtNet - дополнительный вход Art-Net.
	BLE    BLEConf     `toml:"ble"`    // BLE - параметры светильников.
	MQTT   MQTTConf    `toml:"mqtt"`   // MQTT - публикация статусов.
	Lights []LightConf `toml:"lights"` // Lights - список светильников.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level string `toml:"log-level"` // Level - уровень логирования.
	Color bool   `toml:"color"`
}

// SacnConf selects where multicast groups are joined.
type SacnConf struct {
	// Interface is a NIC name. Empty lets the kernel choose.
	Interface string `toml:"interface"`
	// Network is a CIDR used to find the NIC when Interface is empty.
	Network string `toml:"network"`
}

type ArtNetConf struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type BLEConf struct {
	Characteristic string   `toml:"characteristic"`
	ConnectTimeout Duration `toml:"connect-timeout"`
	ScanInterval   Duration `toml:"scan-interval"`
	WriteInterval  Duration `toml:"write-interval"`
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	ClientID string `toml:"clientID"` // ClientID - имя клиента.
	Host     string `toml:"server"`   // Host - адрес MQTT сервера.
	Port     string `toml:"port"`     // Port - порт MQTT сервера.
	User     string `toml:"user"`     // User - логин для подключения к MQTT серверу.
	Password string `toml:"password"` // Password - пароль для подключения к MQTT серверу.
	Qos      byte   `toml:"qos"`      // Qos - качество обслуживания.
	Topic    string `toml:"topic"`    // Topic - префикс топиков статуса.
}

// Enabled reports whether a broker is configured.
func (m MQTTConf) Enabled() bool {
	return m.Host != ""
}

// LightConf describes one fixture.
type LightConf struct {
	ID       string `toml:"id"`
	Universe uint16 `toml:"universe"`
	Address  uint16 `toml:"address"`
}

// Duration decodes TOML strings like "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns a configuration with every optional value filled in.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		ArtNet: ArtNetConf{Listen: ":6454"},
		BLE: BLEConf{
			Characteristic: DefaultCharacteristic,
			ConnectTimeout: Duration{10 * time.Second},
			ScanInterval:   Duration{500 * time.Millisecond},
			WriteInterval:  Duration{50 * time.Millisecond},
		},
		MQTT: MQTTConf{
			ClientID: "sacn2ble",
			Port:     "1883",
			Topic:    "sacn2ble",
		},
	}
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes configuration from a TOML document.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes light ids and checks address windows.
func (c *Config) Validate() error {
	if len(c.Lights) == 0 {
		return ErrNoLights
	}

	minUniverse := uint16(MinUniverse)
	if c.ArtNet.Enabled {
		minUniverse = MinArtNetUniverse
	}

	seen := make(map[string]struct{}, len(c.Lights))
	for i := range c.Lights {
		l := &c.Lights[i]
		mac, err := net.ParseMAC(strings.TrimSpace(l.ID))
		if err != nil || len(mac) != 6 {
			return fmt.Errorf("%w %d: bad id %q", ErrInvalidLight, i, l.ID)
		}
		l.ID = strings.ToUpper(mac.String())

		if l.Universe < minUniverse || l.Universe > MaxUniverse {
			return fmt.Errorf("%w %s: universe %d out of range %d-%d", ErrInvalidLight, l.ID, l.Universe, minUniverse, MaxUniverse)
		}
		if l.Address < MinAddress || l.Address > MaxAddress {
			return fmt.Errorf("%w %s: address %d out of range %d-%d", ErrInvalidLight, l.ID, l.Address, MinAddress, MaxAddress)
		}
		if _, ok := seen[l.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateLight, l.ID)
		}
		seen[l.ID] = struct{}{}
	}

	if c.BLE.ConnectTimeout.Duration <= 0 || c.BLE.ScanInterval.Duration <= 0 || c.BLE.WriteInterval.Duration <= 0 {
		return ErrInvalidTiming
	}
	if c.Sacn.Network != "" {
		if _, _, err := net.ParseCIDR(c.Sacn.Network); err != nil {
			return fmt.Errorf("sacn network: %w", err)
		}
	}
	return nil
}
