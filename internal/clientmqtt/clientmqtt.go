// Package clientmqtt publishes bridge status to an MQTT broker.
package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sacn2ble/internal/logger"
	"sacn2ble/internal/status"
)

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       *logger.Log
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions

	queue    chan message
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// NewClient конструктор.
func NewClient(log *logger.Log, cfgClient MQTTConf) *ClientMQTT {
	if cfgClient.Schema == "" {
		cfgClient.Schema = "tcp"
	}
	cfgClient.Topic = strings.TrimSuffix(cfgClient.Topic, "/")
	return &ClientMQTT{
		log:       log.Module("mqtt"),
		cfgClient: cfgClient,
		queue:     make(chan message, queueSize),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start connects to the broker. Reconnects are handled by paho.
func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.ctx = ctx
	c.opts = c.options()
	c.client = mqtt.NewClient(c.opts)
	go c.sender()

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-time.After(connectTimeout):
		return fmt.Errorf("connect to %s: timeout after %v", c.broker(), connectTimeout)
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) options() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(c.broker()).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetWriteTimeout(writeTimeout).
		SetWill(c.topic("app", "status"), offlinePayload, c.cfgClient.Qos, true)
}

func (c *ClientMQTT) broker() string {
	return fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)
}

// Stop drops whatever is still queued and publishes the offline status last.
func (c *ClientMQTT) Stop() error {
	if c.client == nil {
		return nil
	}
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.stopped
	if c.client.IsConnected() {
		c.send(message{topic: c.topic("app", "status"), payload: []byte(offlinePayload), retained: true})
		c.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.Info("client connected to server")
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) topic(parts ...string) string {
	return c.cfgClient.Topic + "/" + strings.Join(parts, "/")
}

// EventTopic returns the retained topic an event is published on.
func (c *ClientMQTT) EventTopic(ev status.Event) string {
	switch ev.Kind {
	case status.KindLight:
		return c.topic("light", ev.Source, "status")
	case status.KindInput:
		return c.topic("input", "status")
	default:
		return c.topic("app", "status")
	}
}

// Event implements status.Sink.
func (c *ClientMQTT) Event(ev status.Event) {
	msg, err := json.Marshal(statusPayload{Status: ev.Status, Time: ev.Time})
	if err != nil {
		c.log.Errorf("marshal event: %v", err)
		return
	}
	c.publish(c.EventTopic(ev), msg, true)
}

// Snapshot implements status.Sink.
func (c *ClientMQTT) Snapshot(s status.Snapshot) {
	msg, err := json.Marshal(s)
	if err != nil {
		c.log.Errorf("marshal snapshot: %v", err)
		return
	}
	c.publish(c.topic("stats"), msg, false)
}

// publish never waits on the broker. When the queue is full the message is
// dropped; the next status or snapshot supersedes it anyway.
func (c *ClientMQTT) publish(topic string, msg []byte, retained bool) {
	if c.client == nil {
		return
	}
	select {
	case c.queue <- message{topic: topic, payload: msg, retained: retained}:
	default:
		c.log.Warnf("publish queue full, dropping %s", topic)
	}
}

func (c *ClientMQTT) sender() {
	defer close(c.stopped)
	for {
		select {
		case <-c.stop:
			return
		case m := <-c.queue:
			if c.client.IsConnected() {
				c.send(m)
			}
		}
	}
}

func (c *ClientMQTT) send(m message) {
	token := c.client.Publish(m.topic, c.cfgClient.Qos, m.retained, m.payload)
	if !token.WaitTimeout(writeTimeout) {
		c.log.Warnf("publish %s: no ack after %v", m.topic, writeTimeout)
		return
	}
	if token.Error() != nil {
		c.log.Errorf("error publish topic %s. %v", m.topic, token.Error())
	}
}
