package clientmqtt

import "time"

type MQTTConf struct {
	ClientID string // ClientID - уникальное имя клиента для брокеров.
	Schema   string // Schema - тип подключения.
	Host     string // Host - адрес MQTT сервера.
	Port     string // Port - порт MQTT сервера.
	User     string // User - логин для подключения к MQTT серверу.
	Password string // Password - пароль для подключения к MQTT серверу.
	Qos      byte   // Qos - качество обслуживания.
	Topic    string // Topic - префикс всех топиков.
}

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 500 // ms
	writeTimeout      = 2 * time.Second
	queueSize         = 64
	offlinePayload    = `{"status":"offline"}`
)

// statusPayload is what retained status topics carry.
type statusPayload struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
