package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sacn2ble/internal/artnet"
	"sacn2ble/internal/ble"
	"sacn2ble/internal/clientmqtt"
	"sacn2ble/internal/config"
	"sacn2ble/internal/controller"
	"sacn2ble/internal/light"
	"sacn2ble/internal/logger"
	"sacn2ble/internal/sacn"
	"sacn2ble/internal/status"
)

var (
	configFile   string
	scanDuration time.Duration
)

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
	flag.DurationVar(&scanDuration, "scan-time", 5*time.Second, "How long the scan command listens for advertisements")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	adapter, err := ble.NewAdapter(log, cfg.BLE.Characteristic)
	if err != nil {
		log.Module("ble").Errorf("failed to open bluetooth: %v", err)
		os.Exit(1)
	}

	if flag.Arg(0) == "scan" {
		scan(ctx, log, adapter)
		return
	}

	board := status.NewBoard(log)
	board.Subscribe(status.LogSink{Log: log})
	board.SetApp("starting")

	var client *clientmqtt.ClientMQTT
	if cfg.MQTT.Enabled() {
		client = clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT))
		if err := client.Start(ctx); err != nil {
			// paho keeps retrying; statuses flow once it connects.
			log.Module("mqtt").Warnf("broker not reachable yet: %v", err)
		}
		board.Subscribe(client)
	}

	lights := make([]controller.Fixture, 0, len(cfg.Lights))
	for _, l := range cfg.Lights {
		board.AddLight(l.ID)
		lights = append(lights, light.NewConnection(log, light.Identity{
			ID:       l.ID,
			Universe: l.Universe,
			Address:  l.Address,
		}, adapter, board, ConvertConfigLight(cfg.BLE)))
	}

	sources, err := openSources(log, cfg, controller.Universes(lights), board)
	if err != nil {
		log.Module("sacn").Errorf("failed to open inputs: %v", err)
		os.Exit(1)
	}

	go func() {
		if err := adapter.Scan(ctx); err != nil {
			log.Module("ble").Errorf("scanning stopped: %v", err)
		}
	}()

	ctl := controller.New(log, lights, board, sources...)
	if err := ctl.Run(ctx); err != nil {
		log.Errorf("controller: %v", err)
	}
	<-ctl.Done()

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}

	log.Info("shutdown complete")
}

func openSources(log *logger.Log, cfg *config.Config, universes []uint16, board *status.Board) ([]controller.Source, error) {
	iface, err := sacn.ResolveInterface(cfg.Sacn.Interface, cfg.Sacn.Network)
	if err != nil {
		return nil, err
	}

	receiver, err := sacn.Listen(log, sacn.ListenConf{
		Universes: universes,
		Interface: iface,
		OnDrop:    func(err error) { board.PacketDropped("sacn", err) },
	})
	if err != nil {
		return nil, err
	}
	sources := []controller.Source{receiver}

	if cfg.ArtNet.Enabled {
		an, err := artnet.NewListener(log, cfg.ArtNet.Listen, func(err error) { board.PacketDropped("artnet", err) })
		if err != nil {
			_ = receiver.Close()
			return nil, err
		}
		sources = append(sources, an)
	}
	return sources, nil
}

// scan lists advertising peripherals, to find the ids for the config.
func scan(ctx context.Context, log *logger.Log, adapter *ble.Adapter) {
	ctx, cancel := context.WithTimeout(ctx, scanDuration)
	defer cancel()

	if err := adapter.Scan(ctx); err != nil {
		log.Module("ble").Errorf("scan failed: %v", err)
		return
	}
	for _, adv := range adapter.Seen() {
		if adv.Name == "" {
			continue
		}
		fmt.Printf("%q -> %s (rssi %d)\n", adv.Name, adv.ID, adv.RSSI)
	}
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID: cfg.ClientID,
		Schema:   "tcp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Qos:      cfg.Qos,
		Topic:    cfg.Topic,
	}
}

// ConvertConfigLight преобразует структуры.
func ConvertConfigLight(cfg config.BLEConf) light.Options {
	opts := light.DefaultOptions()
	if cfg.ScanInterval.Duration > 0 {
		opts.ScanInterval = cfg.ScanInterval.Duration
	}
	if cfg.WriteInterval.Duration > 0 {
		opts.WriteInterval = cfg.WriteInterval.Duration
	}
	if cfg.ConnectTimeout.Duration > 0 {
		opts.ConnectTimeout = cfg.ConnectTimeout.Duration
	}
	return opts
}
