// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/config"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

var (
	ErrNotConnected   = errors.New("mqtt client is not connected")
	ErrConnectTimeout = errors.New("mqtt connect timed out")
)

// MQTTPublisher fans status snapshots out to an MQTT broker.
type MQTTPublisher struct {
	client MQTT.Client
	prefix string
	sent   atomic.Uint64
	failed atomic.Uint64
}

// StatusMessage is the JSON payload of one snapshot.
type StatusMessage struct {
	Kind               string   `json:"kind"`
	Name               string   `json:"name"`
	Area               string   `json:"area"`
	TimestampMs        int64    `json:"timestamp_ms"`
	DowntimeMinutes    *float64 `json:"downtime_minutes"`
	WorkingTimeMinutes *float64 `json:"working_time_minutes"`
	DowntimePercentage *float64 `json:"downtime_percentage"`
	Availability       *float64 `json:"availability"`
}

// NewMQTT connects to the configured broker.
func NewMQTT(cfg config.MQTTConfig, clientID string) (*MQTTPublisher, error) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetUsername(cfg.Username)
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(client MQTT.Client) {
		zap.S().Infof("Connected to MQTT broker %s", cfg.BrokerURL)
	})
	opts.SetConnectionLostHandler(func(client MQTT.Client, err error) {
		// auto reconnect is on, snapshots published meanwhile are dropped
		zap.S().Warnf("Connection lost to MQTT broker %s: %v", cfg.BrokerURL, err)
	})

	client := MQTT.NewClient(opts)
	if err := connect(client, publishTimeout); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}
	return NewWithClient(client, cfg.TopicPrefix), nil
}

// connect waits for the initial connection. A connection that is not
// established within timeout is an error.
func connect(client MQTT.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return ErrConnectTimeout
	}
	return token.Error()
}

// NewWithClient wraps an existing client.
func NewWithClient(client MQTT.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

// Topic returns prefix/kind/name with MQTT wildcards and separators in name replaced.
func (p *MQTTPublisher) Topic(kind, name string) string {
	r := strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")
	return fmt.Sprintf("%s/%s/%s", p.prefix, kind, r.Replace(name))
}

// PublishStatus sends s with QoS 1 and waits for the broker to acknowledge it.
func (p *MQTTPublisher) PublishStatus(ctx context.Context, kind string, s postgresql.StatusSnapshot) error {
	if !p.client.IsConnectionOpen() {
		p.failed.Add(1)
		return ErrNotConnected
	}

	payload, err := json.Marshal(StatusMessage{
		Kind:               kind,
		Name:               s.Name,
		Area:               s.Area,
		TimestampMs:        s.LastUpdate.UnixMilli(),
		DowntimeMinutes:    s.DowntimeMinutes,
		WorkingTimeMinutes: s.WorkingTimeMinutes,
		DowntimePercentage: s.DowntimePercentage,
		Availability:       s.Availability,
	})
	if err != nil {
		return err
	}

	token := p.client.Publish(p.Topic(kind, s.Name), 1, false, payload)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		p.failed.Add(1)
		return ctx.Err()
	case <-timer.C:
		p.failed.Add(1)
		return fmt.Errorf("publishing to %s timed out", p.Topic(kind, s.Name))
	}
	if err = token.Error(); err != nil {
		p.failed.Add(1)
		return err
	}
	p.sent.Add(1)
	return nil
}

// Stats returns the number of sent and failed snapshots.
func (p *MQTTPublisher) Stats() (sent, failed uint64) {
	return p.sent.Load(), p.failed.Load()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
